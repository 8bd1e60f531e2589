package db

import (
	"database/sql"
	"fmt"

	"citydesk/internal/config"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func NewPostgresDB(cfg *config.PostgresConfig, log logrus.FieldLogger) (*sql.DB, error) {
	log.WithField("operation", "db.NewPostgresDB").Info("Connecting to postgres")
	db, err := sql.Open("postgres", cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("db.NewPostgresDB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("db.NewPostgresDB: %w", err)
	}

	return db, nil
}
