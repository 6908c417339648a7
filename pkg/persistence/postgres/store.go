// Package postgres provides a PostgreSQL implementation of persistence.Store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

//go:embed schema.sql
var schema string

// snapshotLockID is the advisory lock key shared by every process writing the snapshot.
const snapshotLockID int64 = 0x76756c6e7472

// Store persists the snapshot as one row per portal branch. The singleton
// vulnerability_snapshot row records that a snapshot has been saved at all.
// Store also implements persistence.Locker.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, xerrors.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Lock takes a session level advisory lock on a connection reserved until
// unlock, so Load and Save run on other pooled connections meanwhile.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, xerrors.Errorf("acquiring lock connection: %w", err)
	}

	if _, err = conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, snapshotLockID); err != nil {
		conn.Release()
		return nil, xerrors.Errorf("pg_advisory_lock: %w", err)
	}

	return func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, snapshotLockID); err != nil {
			log.WithError(err).Error("Error while releasing snapshot lock")
			// A closed connection is dropped by the pool together with its session locks.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Load(ctx context.Context) (*persistence.Snapshot, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, false, persistence.Corrupted(xerrors.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only tx

	var savedAt time.Time
	err = tx.QueryRow(ctx, `SELECT saved_at FROM vulnerability_snapshot WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistence.Corrupted(xerrors.Errorf("query snapshot: %w", err))
	}

	rows, err := tx.Query(ctx, `SELECT portal, branch, vulnerabilities FROM vulnerability_entries`)
	if err != nil {
		return nil, false, persistence.Corrupted(xerrors.Errorf("query entries: %w", err))
	}
	defer rows.Close()

	snapshot := persistence.NewSnapshot()
	for rows.Next() {
		var (
			key  vuln.Key
			data []byte
		)
		if err := rows.Scan(&key.Portal, &key.Branch, &data); err != nil {
			return nil, false, persistence.Corrupted(xerrors.Errorf("scan entry: %w", err))
		}
		var list []vuln.Vulnerability
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, false, persistence.Corrupted(xerrors.Errorf("unmarshal entry %s: %w", key, err))
		}
		snapshot.PutEntry(key, list)
	}
	if err := rows.Err(); err != nil {
		return nil, false, persistence.Corrupted(xerrors.Errorf("iterate entries: %w", err))
	}

	log.WithFields(log.Fields{
		"entries":  snapshot.Len(),
		"saved_at": savedAt,
	}).Debug("Loaded snapshot")
	return snapshot, true, nil
}

// Save replaces every entry in one transaction.
func (s *Store) Save(ctx context.Context, snapshot *persistence.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistence.WriteFailed(xerrors.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `DELETE FROM vulnerability_entries`); err != nil {
		return persistence.WriteFailed(xerrors.Errorf("delete entries: %w", err))
	}

	batch := &pgx.Batch{}
	for _, entry := range snapshot.Entries() {
		data, err := json.Marshal(entry.Vulnerabilities)
		if err != nil {
			return persistence.WriteFailed(xerrors.Errorf("marshal entry %s/%s: %w", entry.Portal, entry.Branch, err))
		}
		batch.Queue(`INSERT INTO vulnerability_entries (portal, branch, vulnerabilities) VALUES ($1, $2, $3)`,
			entry.Portal, entry.Branch, data)
	}
	batch.Queue(`INSERT INTO vulnerability_snapshot (id, saved_at, entries) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET saved_at = EXCLUDED.saved_at, entries = EXCLUDED.entries`,
		time.Now().UTC(), snapshot.Len())

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return persistence.WriteFailed(xerrors.Errorf("insert entries: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return persistence.WriteFailed(xerrors.Errorf("commit: %w", err))
	}
	return nil
}
