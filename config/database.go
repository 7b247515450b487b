package config

import "time"

// DBConfig contains PostgreSQL database configuration for the profile store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"estoqueflow"`
	Password string `env:"PASSWORD" envDefault:"estoqueflow"`
	Name     string `env:"NAME"     envDefault:"estoqueflow"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the persisted token store.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	// TokenTTL bounds how long a persisted refresh token outlives its last
	// use. Defaults to the typical GoTrue refresh token validity.
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
}
