package repository

import (
	"context"
	"fmt"

	"citydesk/internal/models"
)

const issueColumns = `id, type, department, description, location, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner, issue *models.Issue) error {
	return row.Scan(&issue.Id, &issue.Type, &issue.Department, &issue.Description, &issue.Location, &issue.Status, &issue.CreatedAt, &issue.UpdatedAt)
}

func (repo *Repository) AddIssue(ctx context.Context, issue models.Issue) (models.Issue, error) {
	query := `
	INSERT INTO issues (type, department, description, location, status)
	VALUES
		($1, $2, $3, $4, 'open')
	RETURNING
		` + issueColumns

	row := repo.db.QueryRowContext(ctx, query, issue.Type, issue.Department, issue.Description, issue.Location)
	err := scanIssue(row, &issue)
	if err != nil {
		return issue, fmt.Errorf("repository.Repository.AddIssue: %w", err)
	}
	return issue, nil
}

func (repo *Repository) GetIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error) {
	q := newListQuery(filter.Limit, filter.Offset)
	if len(filter.Department) > 0 {
		q.where("department = $$", filter.Department)
	}
	if len(filter.Status) > 0 {
		q.where("status = $$", filter.Status)
	}

	query, params := q.build(`
	SELECT
		` + issueColumns + `
	FROM issues
	$conditions$
	ORDER BY created_at DESC, id
	LIMIT $1
	OFFSET $2
	`)

	rows, err := repo.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetIssues: %w", err)
	}
	defer rows.Close()

	result := []models.Issue{}
	var issue models.Issue
	for rows.Next() {
		err = scanIssue(rows, &issue)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetIssues: row scan failed: %w", err)
		}
		result = append(result, issue)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetIssues: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) GetIssueByUUID(ctx context.Context, UUID string) (models.Issue, error) {
	var issue models.Issue
	row := repo.db.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = $1", UUID)
	err := scanIssue(row, &issue)
	if err != nil {
		return issue, fmt.Errorf("repository.Repository.GetIssueByUUID: %w", err)
	}
	return issue, nil
}

// UpdateIssueStatus moves the issue to status only if it is currently in from.
// sql.ErrNoRows means the issue is gone or its status changed meanwhile.
func (repo *Repository) UpdateIssueStatus(ctx context.Context, UUID string, from, status models.IssueStatus) (models.Issue, error) {
	query := `
	UPDATE issues
	SET (status, updated_at) = ($1, CURRENT_TIMESTAMP)
	WHERE id = $2 AND status = $3
	RETURNING
		` + issueColumns

	var issue models.Issue
	row := repo.db.QueryRowContext(ctx, query, status, UUID, from)
	err := scanIssue(row, &issue)
	if err != nil {
		return issue, fmt.Errorf("repository.Repository.UpdateIssueStatus: %w", err)
	}
	return issue, nil
}

func (repo *Repository) DeleteIssue(ctx context.Context, UUID string) (bool, error) {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM issues WHERE id = $1", UUID)
	if err != nil {
		return false, fmt.Errorf("repository.Repository.DeleteIssue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository.Repository.DeleteIssue: %w", err)
	}
	return n > 0, nil
}

