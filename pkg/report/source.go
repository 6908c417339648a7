package report

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/ext"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// Source locates raw scan report documents.
type Source interface {
	// Open returns the report of the given key or ErrNotFound.
	Open(key vuln.Key) (io.ReadCloser, error)
	// ModTime returns the modification time of the report, or the Unix epoch
	// when the report does not exist.
	ModTime(key vuln.Key) (time.Time, error)
}

type fileSource struct {
	dir        string
	ambassador ext.Ambassador
}

// NewFileSource constructs a Source reading reports from dir.
func NewFileSource(dir string, ambassador ext.Ambassador) Source {
	return &fileSource{
		dir:        dir,
		ambassador: ambassador,
	}
}

func (s *fileSource) Open(key vuln.Key) (io.ReadCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	path := s.path(key)
	log.WithFields(log.Fields{
		"portal": key.Portal,
		"branch": key.Branch,
		"path":   path,
	}).Debug("Opening scan report")

	rc, err := s.ambassador.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Errorf("%s: %w", key.ReportName(), ErrNotFound)
		}
		return nil, xerrors.Errorf("opening scan report: %w", err)
	}
	return rc, nil
}

func (s *fileSource) ModTime(key vuln.Key) (time.Time, error) {
	if err := key.Validate(); err != nil {
		return time.Time{}, err
	}
	modTime, err := s.ambassador.ModTime(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Unix(0, 0).UTC(), nil
		}
		return time.Time{}, xerrors.Errorf("reading scan report metadata: %w", err)
	}
	return modTime, nil
}

func (s *fileSource) path(key vuln.Key) string {
	return filepath.Join(s.dir, key.ReportName())
}
