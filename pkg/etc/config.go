package etc

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type Config struct {
	API        API
	Reports    Reports
	Store      Store
	FileStore  FileStore
	BoltStore  BoltStore
	RedisPool  RedisPool
	RedisStore RedisStore
	Postgres   Postgres
	Metrics    Metrics
}

type API struct {
	Addr           string        `env:"VULN_TRACKER_API_ADDR" envDefault:":8080"`
	TLSCertificate string        `env:"VULN_TRACKER_API_TLS_CERTIFICATE"`
	TLSKey         string        `env:"VULN_TRACKER_API_TLS_KEY"`
	ClientCAs      []string      `env:"VULN_TRACKER_API_CLIENT_CAS"`
	ReadTimeout    time.Duration `env:"VULN_TRACKER_API_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"VULN_TRACKER_API_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout    time.Duration `env:"VULN_TRACKER_API_IDLE_TIMEOUT" envDefault:"60s"`
}

func (c *API) IsTLSEnabled() bool {
	return c.TLSCertificate != "" && c.TLSKey != ""
}

type Reports struct {
	Dir string `env:"VULN_TRACKER_REPORTS_DIR" envDefault:"/var/lib/vuln-tracker/reports"`
}

const (
	StoreTypeFile     = "file"
	StoreTypeBolt     = "bolt"
	StoreTypeRedis    = "redis"
	StoreTypePostgres = "postgres"
	StoreTypeMemory   = "memory"
)

type Store struct {
	Type string `env:"VULN_TRACKER_STORE_TYPE" envDefault:"file"`
}

type FileStore struct {
	Path string `env:"VULN_TRACKER_STORE_FILE_PATH" envDefault:"/var/lib/vuln-tracker/state.json"`
}

type BoltStore struct {
	Path    string        `env:"VULN_TRACKER_STORE_BOLT_PATH" envDefault:"/var/lib/vuln-tracker/state.db"`
	Timeout time.Duration `env:"VULN_TRACKER_STORE_BOLT_TIMEOUT" envDefault:"5s"`
}

type RedisPool struct {
	URL               string        `env:"VULN_TRACKER_REDIS_URL" envDefault:"redis://localhost:6379"`
	MaxActive         int           `env:"VULN_TRACKER_REDIS_POOL_MAX_ACTIVE" envDefault:"5"`
	MaxIdle           int           `env:"VULN_TRACKER_REDIS_POOL_MAX_IDLE" envDefault:"5"`
	IdleTimeout       time.Duration `env:"VULN_TRACKER_REDIS_POOL_IDLE_TIMEOUT" envDefault:"5m"`
	ConnectionTimeout time.Duration `env:"VULN_TRACKER_REDIS_POOL_CONNECTION_TIMEOUT" envDefault:"1s"`
	ReadTimeout       time.Duration `env:"VULN_TRACKER_REDIS_POOL_READ_TIMEOUT" envDefault:"1s"`
	WriteTimeout      time.Duration `env:"VULN_TRACKER_REDIS_POOL_WRITE_TIMEOUT" envDefault:"1s"`
}

type RedisStore struct {
	Namespace   string        `env:"VULN_TRACKER_STORE_REDIS_NAMESPACE" envDefault:"vuln.tracker:state"`
	LockTTL     time.Duration `env:"VULN_TRACKER_STORE_REDIS_LOCK_TTL" envDefault:"30s"`
	LockTimeout time.Duration `env:"VULN_TRACKER_STORE_REDIS_LOCK_TIMEOUT" envDefault:"10s"`
}

type Postgres struct {
	URL string `env:"VULN_TRACKER_STORE_POSTGRES_URL"`
}

type Metrics struct {
	Enabled  bool   `env:"VULN_TRACKER_METRICS_ENABLED" envDefault:"true"`
	Addr     string `env:"VULN_TRACKER_METRICS_ADDR" envDefault:":9090"`
	Endpoint string `env:"VULN_TRACKER_METRICS_ENDPOINT" envDefault:"/metrics"`
}

func GetLogLevel() logrus.Level {
	if value, ok := os.LookupEnv("VULN_TRACKER_LOG_LEVEL"); ok {
		level, err := logrus.ParseLevel(value)
		if err != nil {
			return logrus.InfoLevel
		}
		return level
	}
	return logrus.InfoLevel
}

func GetConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.Store.Type = strings.ToLower(strings.TrimSpace(cfg.Store.Type))
	return cfg, nil
}
