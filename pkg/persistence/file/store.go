// Package file persists the snapshot as a single JSON file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
)

const lockRetryDelay = 20 * time.Millisecond

type store struct {
	path string
}

// NewStore constructs a Store backed by the JSON file configured in cfg.
// The returned Store also implements persistence.Locker.
func NewStore(cfg etc.FileStore) persistence.Store {
	return &store{
		path: cfg.Path,
	}
}

func (s *store) Load(_ context.Context) (*persistence.Snapshot, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, persistence.Corrupted(xerrors.Errorf("reading snapshot file: %w", err))
	}

	snapshot := persistence.NewSnapshot()
	if err = json.Unmarshal(b, snapshot); err != nil {
		return nil, false, persistence.Corrupted(xerrors.Errorf("decoding snapshot file %s: %w", s.path, err))
	}

	log.WithFields(log.Fields{
		"path":    s.path,
		"entries": snapshot.Len(),
	}).Debug("Loaded snapshot")
	return snapshot, true, nil
}

// Save writes the snapshot next to the target file and renames it over the
// target, so readers see either the old or the new snapshot.
func (s *store) Save(_ context.Context, snapshot *persistence.Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.WriteFailed(xerrors.Errorf("marshalling snapshot: %w", err))
	}

	if err = s.writeAtomically(b); err != nil {
		return persistence.WriteFailed(err)
	}

	log.WithFields(log.Fields{
		"path":    s.path,
		"entries": snapshot.Len(),
		"bytes":   len(b),
	}).Debug("Saved snapshot")
	return nil
}

// Lock takes an exclusive flock on a sibling .lock file. The kernel drops the
// lock when the holding process exits.
func (s *store) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return nil, xerrors.Errorf("creating snapshot dir: %w", err)
	}

	lockPath := s.path + ".lock"
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, xerrors.Errorf("locking %s: %w", lockPath, err)
	}
	if !locked {
		return nil, xerrors.Errorf("locking %s: %w", lockPath, ctx.Err())
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			log.WithError(err).WithField("path", lockPath).Error("Error while releasing snapshot lock")
		}
	}, nil
}

func (s *store) writeAtomically(b []byte) (err error) {
	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0750); err != nil {
		return xerrors.Errorf("creating snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return xerrors.Errorf("creating temp snapshot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(b); err != nil {
		_ = tmp.Close()
		return xerrors.Errorf("writing temp snapshot file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return xerrors.Errorf("syncing temp snapshot file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return xerrors.Errorf("closing temp snapshot file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return xerrors.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}
