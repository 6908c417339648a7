package redis

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
)

var errLockHeld = xerrors.New("lock held by another process")

// releaseScript deletes the lock only if it is still owned by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type store struct {
	cfg etc.RedisStore
	rdb *redis.Client
}

// NewStore constructs a Store keeping the whole snapshot under a single Redis key.
// The returned Store also implements persistence.Locker.
func NewStore(cfg etc.RedisStore, rdb *redis.Client) persistence.Store {
	return &store{
		cfg: cfg,
		rdb: rdb,
	}
}

func (s *store) Load(ctx context.Context) (*persistence.Snapshot, bool, error) {
	key := s.getKeyForSnapshot()
	value, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, persistence.Corrupted(xerrors.Errorf("getting snapshot: %w", err))
	}

	snapshot := persistence.NewSnapshot()
	if err = json.Unmarshal(value, snapshot); err != nil {
		return nil, false, persistence.Corrupted(xerrors.Errorf("unmarshalling snapshot: %w", err))
	}

	log.WithFields(log.Fields{
		"redis_key": key,
		"entries":   snapshot.Len(),
	}).Debug("Loaded snapshot")
	return snapshot, true, nil
}

func (s *store) Save(ctx context.Context, snapshot *persistence.Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.WriteFailed(xerrors.Errorf("marshalling snapshot: %w", err))
	}

	key := s.getKeyForSnapshot()
	log.WithFields(log.Fields{
		"redis_key": key,
		"entries":   snapshot.Len(),
	}).Debug("Saving snapshot")

	if err = s.rdb.Set(ctx, key, b, 0).Err(); err != nil {
		return persistence.WriteFailed(xerrors.Errorf("saving snapshot: %w", err))
	}
	return nil
}

// Lock takes the snapshot lock shared by every process using the same namespace.
// The lock expires after LockTTL so a crashed holder cannot block others forever.
func (s *store) Lock(ctx context.Context) (func(), error) {
	key := s.getKeyForLock()
	token := makeToken()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = s.cfg.LockTimeout

	err := backoff.RetryNotify(func() error {
		ok, err := s.rdb.SetNX(ctx, key, token, s.cfg.LockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"redis_key": key,
			"wait":      wait.String(),
		}).WithError(err).Trace("Waiting for snapshot lock")
	})
	if err != nil {
		return nil, xerrors.Errorf("locking %s: %w", key, err)
	}

	return func() {
		if err := releaseScript.Run(context.Background(), s.rdb, []string{key}, token).Err(); err != nil {
			log.WithError(err).WithField("redis_key", key).Error("Error while releasing snapshot lock")
		}
	}, nil
}

func (s *store) getKeyForSnapshot() string {
	return fmt.Sprintf("%s:snapshot", s.cfg.Namespace)
}

func (s *store) getKeyForLock() string {
	return fmt.Sprintf("%s:snapshot:lock", s.cfg.Namespace)
}

func makeToken() string {
	b := make([]byte, 12)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
