package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	ServerAddress string   `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	Env           string   `env:"ENV" envDefault:"local"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"DEBUG"`
	LogFormat     string   `env:"LOG_FORMAT" envDefault:"text"`
	CORSOrigin    string   `env:"CORS_ORIGIN" envDefault:"*"`
	JWTSecret     string   `env:"JWT_SECRET"`
	Departments   []string `env:"DEPARTMENTS" envSeparator:","`
	Storage       string   `env:"STORAGE" envDefault:"postgres"`
	PostgresConfig
}

func NewConfig() (*Config, error) {
	config := &Config{}

	err := env.Parse(config)
	if err != nil {
		return config, fmt.Errorf("config.NewConfig: %w", err)
	}

	switch config.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return config, fmt.Errorf("config.NewConfig: unknown storage %q, should be one of: %s, %s", config.Storage, StoragePostgres, StorageMemory)
	}
	return config, nil
}

type PostgresConfig struct {
	Conn            string `env:"POSTGRES_CONN" envDefault:"postgres://citydesk:citydesk@db:5432/citydesk?sslmode=disable"`
	MaxOpenConns    int    `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"10"`
	AutoMigrateUp   bool   `env:"AUTO_MIGRATE_UP" envDefault:"true"`
	AutoMigrateDown bool   `env:"AUTO_MIGRATE_DOWN" envDefault:"false"`
	// Empty means the migrations embedded into the binary.
	MigrationsURL string `env:"MIGRATIONS_URL"`
}

func NewPostgresConfig() (*PostgresConfig, error) {
	config := &PostgresConfig{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewPostgresConfig: %w", err)
	}
	return config, err
}
