// Package bolt persists the snapshot in a BoltDB file, one nested bucket per
// portal and one key per branch.
package bolt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

const (
	vulnerabilitiesBucket = "vulnerabilities"
	metadataBucket        = "metadata"
	snapshotKey           = "snapshot"
)

// Metadata describes the last saved snapshot.
type Metadata struct {
	SavedAt time.Time `json:"saved_at"`
	Entries int       `json:"entries"`
}

type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the BoltDB file configured in cfg.
func NewStore(cfg etc.BoltStore) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, xerrors.Errorf("failed to mkdir: %w", err)
	}

	log.WithField("path", cfg.Path).Debug("Opening bolt store")
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return xerrors.Errorf("failed to close DB: %w", err)
	}
	return nil
}

func (s *Store) Load(_ context.Context) (*persistence.Snapshot, bool, error) {
	var (
		snapshot *persistence.Snapshot
		found    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(vulnerabilitiesBucket))
		if root == nil {
			return nil
		}
		found = true
		snapshot = persistence.NewSnapshot()

		return root.ForEach(func(portal, v []byte) error {
			if v != nil {
				return xerrors.Errorf("unexpected value under portal key %s", portal)
			}
			branches := root.Bucket(portal)
			return branches.ForEach(func(branch, value []byte) error {
				var list []vuln.Vulnerability
				if err := json.Unmarshal(value, &list); err != nil {
					return xerrors.Errorf("failed to unmarshal %s/%s: %w", portal, branch, err)
				}
				snapshot.PutEntry(vuln.Key{Portal: string(portal), Branch: string(branch)}, list)
				return nil
			})
		})
	})
	if err != nil {
		return nil, false, persistence.Corrupted(err)
	}
	return snapshot, found, nil
}

// Save replaces all buckets in a single transaction.
func (s *Store) Save(_ context.Context, snapshot *persistence.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(vulnerabilitiesBucket)) != nil {
			if err := tx.DeleteBucket([]byte(vulnerabilitiesBucket)); err != nil {
				return xerrors.Errorf("failed to delete a bucket: %w", err)
			}
		}
		root, err := tx.CreateBucket([]byte(vulnerabilitiesBucket))
		if err != nil {
			return xerrors.Errorf("failed to create a bucket: %w", err)
		}

		for _, entry := range snapshot.Entries() {
			if err = s.put(root, entry); err != nil {
				return err
			}
		}

		return s.putMetadata(tx, Metadata{
			SavedAt: time.Now().UTC(),
			Entries: snapshot.Len(),
		})
	})
	if err != nil {
		return persistence.WriteFailed(err)
	}
	return nil
}

// GetMetadata returns the metadata of the last saved snapshot.
func (s *Store) GetMetadata() (Metadata, bool, error) {
	var (
		metadata Metadata
		found    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metadataBucket))
		if bucket == nil {
			return nil
		}
		value := bucket.Get([]byte(snapshotKey))
		if value == nil {
			return nil
		}
		found = true
		return json.Unmarshal(value, &metadata)
	})
	if err != nil {
		return Metadata{}, false, xerrors.Errorf("failed to get metadata: %w", err)
	}
	return metadata, found, nil
}

func (s *Store) put(root *bolt.Bucket, entry persistence.Entry) error {
	branches, err := root.CreateBucketIfNotExists([]byte(entry.Portal))
	if err != nil {
		return xerrors.Errorf("failed to create a bucket: %w", err)
	}
	v, err := json.Marshal(entry.Vulnerabilities)
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}
	return branches.Put([]byte(entry.Branch), v)
}

func (s *Store) putMetadata(tx *bolt.Tx, metadata Metadata) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
	if err != nil {
		return xerrors.Errorf("failed to create a bucket: %w", err)
	}
	v, err := json.Marshal(metadata)
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}
	return bucket.Put([]byte(snapshotKey), v)
}
