package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"citydesk/internal/config"
	postgres "citydesk/internal/repository/db"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// pq error code for unique_violation
const uniqueViolation = "23505"

type Repository struct {
	db  *sql.DB
	cfg *config.PostgresConfig
	log logrus.FieldLogger
}

func NewRepository(db *sql.DB, cfg *config.PostgresConfig, log logrus.FieldLogger) (*Repository, error) {
	var err error

	if log == nil {
		log = logrus.StandardLogger()
	}

	repo := &Repository{
		db:  db,
		cfg: cfg,
		log: log.WithField("component", "repository"),
	}

	if repo.cfg == nil {
		repo.cfg, err = config.NewPostgresConfig()
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not load postgres config: %w", err)
		}
	}

	if repo.db == nil {
		repo.db, err = postgres.NewPostgresDB(repo.cfg, repo.log)
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not open postgres db: %w", err)
		}
	}

	if repo.cfg.AutoMigrateUp {
		err = repo.MigrateUp()
		if err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func (repo *Repository) MigrateUp() error {
	err := postgres.MigrateUp(repo.db, repo.cfg.MigrationsURL, repo.log)
	if err != nil {
		return fmt.Errorf("repository.Repository.MigrateUp: %w", err)
	}
	return nil
}

func (repo *Repository) MigrateDown() error {
	err := postgres.MigrateDown(repo.db, repo.cfg.MigrationsURL, repo.log)
	if err != nil {
		return fmt.Errorf("repository.Repository.MigrateDown: %w", err)
	}
	return nil
}

func (repo *Repository) Ping(ctx context.Context) error {
	return repo.db.PingContext(ctx)
}

func (repo *Repository) Close() error {
	var migErr error
	if repo.cfg.AutoMigrateDown {
		migErr = repo.MigrateDown()
	}

	err := repo.db.Close()
	return errors.Join(migErr, err)
}

//// Service

func wrapRollbackErr(tx *sql.Tx, err error) error {
	rollerr := tx.Rollback()
	if rollerr == nil {
		return err
	}
	return fmt.Errorf("failed to rollback transaction after previous error: %w, %w", rollerr, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// listQuery collects optional filter conditions for a list query whose first
// two parameters are LIMIT and OFFSET. Conditions use "$$" as the placeholder.
type listQuery struct {
	conditions []string
	params     []interface{}
}

func newListQuery(limit, offset int) *listQuery {
	q := &listQuery{params: make([]interface{}, 0, 6)}
	if limit <= 0 {
		q.params = append(q.params, nil)
	} else {
		q.params = append(q.params, limit)
	}
	q.params = append(q.params, offset)
	return q
}

func (q *listQuery) where(condition string, param interface{}) {
	q.params = append(q.params, param)
	q.conditions = append(q.conditions, strings.Replace(condition, "$$", "$"+strconv.Itoa(len(q.params)), -1))
}

// build substitutes $conditions$ in query with the collected WHERE clause.
func (q *listQuery) build(query string) (string, []interface{}) {
	condStr := ""
	if len(q.conditions) > 0 {
		condStr = "WHERE " + strings.Join(q.conditions, " AND ")
	}
	return strings.Replace(query, "$conditions$", condStr, -1), q.params
}
