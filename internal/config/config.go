package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"dev"`
	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	// StorageBackend picks the coordination-store strategy once at startup:
	// "redis" for real deployments, "memory" for single-process ones.
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"redis"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`

	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	MaxConcurrentJobsPerTenant int           `env:"MAX_CONCURRENT_JOBS_PER_TENANT" envDefault:"5"`
	StaleJobTimeout            time.Duration `env:"STALE_JOB_TIMEOUT" envDefault:"30m"`
	JobRetentionTTL            time.Duration `env:"JOB_RETENTION_TTL" envDefault:"24h"`

	LockTTL        time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockRetryBase  time.Duration `env:"LOCK_RETRY_BASE" envDefault:"50ms"`
	LockRetryMax   time.Duration `env:"LOCK_RETRY_MAX" envDefault:"1s"`
	DisableLocking bool          `env:"DISABLE_DISTRIBUTED_LOCKING" envDefault:"false"`

	SweepSchedule string   `env:"SWEEP_SCHEDULE" envDefault:"@every 1m"`
	Tenants       []string `env:"TENANTS" envSeparator:","`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
