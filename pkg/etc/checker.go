package etc

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Check checks config values to fail fast in case of any problems
// that we might have due to invalid config.
func Check(config Config) (err error) {
	log.WithFields(log.Fields{
		"pid": os.Getpid(),
	}).Debug("Current process")

	log.WithFields(log.Fields{
		"uid":      os.Getuid(),
		"gid":      os.Getegid(),
		"home_dir": os.Getenv("HOME"),
	}).Debug("Current user")

	if config.Reports.Dir == "" {
		err = xerrors.New("reports dir must not be blank")
		return
	}

	if config.API.IsTLSEnabled() {
		if !fileExists(config.API.TLSCertificate) {
			err = xerrors.Errorf("TLS certificate file does not exist: %s", config.API.TLSCertificate)
			return
		}
		if !fileExists(config.API.TLSKey) {
			err = xerrors.Errorf("TLS private key file does not exist: %s", config.API.TLSKey)
			return
		}
		for _, clientCA := range config.API.ClientCAs {
			if !fileExists(clientCA) {
				err = xerrors.Errorf("ClientCA file does not exist: %s", clientCA)
				return
			}
		}
	}

	switch config.Store.Type {
	case StoreTypeFile:
		if config.FileStore.Path == "" {
			return xerrors.New("file store path must not be blank")
		}
		return ensureDirExists(filepath.Dir(config.FileStore.Path), "file store dir")
	case StoreTypeBolt:
		if config.BoltStore.Path == "" {
			return xerrors.New("bolt store path must not be blank")
		}
		if config.BoltStore.Timeout <= 0 {
			return xerrors.New("bolt store timeout must be positive")
		}
		return ensureDirExists(filepath.Dir(config.BoltStore.Path), "bolt store dir")
	case StoreTypeRedis:
		if err = checkRedisConfig(config.RedisPool, config.RedisStore); err != nil {
			return xerrors.Errorf("redis configuration is invalid: %w", err)
		}
	case StoreTypePostgres:
		if config.Postgres.URL == "" {
			return xerrors.New("postgres URL must not be blank")
		}
	case StoreTypeMemory:
		log.Warn("Using in-memory store, triage decisions will be lost on restart")
	default:
		return xerrors.Errorf("store type must be one of file, bolt, redis, postgres or memory: %q", config.Store.Type)
	}

	return
}

func checkRedisConfig(pool RedisPool, store RedisStore) error {
	if pool.URL == "" {
		return xerrors.New("URL must not be blank")
	}

	if pool.MaxActive < 0 || pool.MaxIdle < 0 {
		return xerrors.New("pool sizes cannot be less than 0")
	}

	if store.Namespace == "" {
		return xerrors.New("namespace is not configured")
	}

	if store.LockTTL < time.Second {
		return xerrors.New("LockTTL must be at least 1 second")
	}

	if store.LockTimeout <= 0 {
		return xerrors.New("LockTimeout must be positive")
	}

	return nil
}

func ensureDirExists(path, description string) (err error) {
	if !dirExists(path) {
		log.WithField("path", path).Warnf("%s does not exist", description)
		log.WithField("path", path).Debugf("Creating %s", description)
		if err = os.MkdirAll(path, 0700); err != nil {
			err = xerrors.Errorf("creating %s: %w", description, err)
			return
		}
	}
	return
}

// dirExists checks if a dir exists before we
// try using it to prevent further errors.
func dirExists(name string) bool {
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && info.IsDir()
}

// fileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func fileExists(name string) bool {
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
