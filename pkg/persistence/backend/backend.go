// Package backend opens the persistence.Store selected by configuration.
package backend

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/bolt"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/file"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/memory"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/postgres"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/redis"
	"github.com/aquasecurity/vuln-tracker/pkg/redisx"
)

// Open returns the store configured by config.Store.Type together with a
// function releasing its resources.
func Open(ctx context.Context, config etc.Config) (persistence.Store, func(), error) {
	log.WithField("type", config.Store.Type).Debug("Opening store")

	switch config.Store.Type {
	case etc.StoreTypeFile:
		return file.NewStore(config.FileStore), func() {}, nil
	case etc.StoreTypeBolt:
		store, err := bolt.NewStore(config.BoltStore)
		if err != nil {
			return nil, nil, xerrors.Errorf("opening bolt store: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("Error while closing bolt store")
			}
		}, nil
	case etc.StoreTypeRedis:
		rdb, err := redisx.NewClient(config.RedisPool)
		if err != nil {
			return nil, nil, xerrors.Errorf("constructing redis client: %w", err)
		}
		return redis.NewStore(config.RedisStore, rdb), func() {
			if err := rdb.Close(); err != nil {
				log.WithError(err).Warn("Error while closing redis client")
			}
		}, nil
	case etc.StoreTypePostgres:
		store, err := postgres.New(ctx, config.Postgres.URL)
		if err != nil {
			return nil, nil, xerrors.Errorf("opening postgres store: %w", err)
		}
		return store, store.Close, nil
	case etc.StoreTypeMemory:
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, xerrors.Errorf("invalid store type: %s", config.Store.Type)
	}
}
