package repository

import (
	"context"
	"fmt"

	"citydesk/internal/models"
)

const taskColumns = `id, department, description, resources, timeline, status, created_at, updated_at`

func scanTask(row rowScanner, task *models.Task) error {
	return row.Scan(&task.Id, &task.Department, &task.Description, &task.Resources, &task.Timeline, &task.Status, &task.CreatedAt, &task.UpdatedAt)
}

func (repo *Repository) AddTask(ctx context.Context, task models.Task) (models.Task, error) {
	query := `
	INSERT INTO tasks (department, description, resources, timeline, status)
	VALUES
		($1, $2, $3, $4, 'available')
	RETURNING
		` + taskColumns

	row := repo.db.QueryRowContext(ctx, query, task.Department, task.Description, task.Resources, task.Timeline)
	err := scanTask(row, &task)
	if err != nil {
		return task, fmt.Errorf("repository.Repository.AddTask: %w", err)
	}
	return task, nil
}

func (repo *Repository) GetTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	q := newListQuery(filter.Limit, filter.Offset)
	if len(filter.Department) > 0 {
		q.where("department = $$", filter.Department)
	}
	if len(filter.Status) > 0 {
		q.where("status = $$", filter.Status)
	}

	query, params := q.build(`
	SELECT
		` + taskColumns + `
	FROM tasks
	$conditions$
	ORDER BY created_at DESC, id
	LIMIT $1
	OFFSET $2
	`)

	rows, err := repo.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetTasks: %w", err)
	}
	defer rows.Close()

	result := []models.Task{}
	var task models.Task
	for rows.Next() {
		err = scanTask(rows, &task)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetTasks: row scan failed: %w", err)
		}
		result = append(result, task)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetTasks: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) GetTaskByUUID(ctx context.Context, UUID string) (models.Task, error) {
	var task models.Task
	row := repo.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", UUID)
	err := scanTask(row, &task)
	if err != nil {
		return task, fmt.Errorf("repository.Repository.GetTaskByUUID: %w", err)
	}
	return task, nil
}

// UpdateTaskStatus never touches a terminated task; sql.ErrNoRows means the
// task is missing or was terminated concurrently.
func (repo *Repository) UpdateTaskStatus(ctx context.Context, UUID string, status models.TaskStatus) (models.Task, error) {
	query := `
	UPDATE tasks
	SET (status, updated_at) = ($1, CURRENT_TIMESTAMP)
	WHERE id = $2 AND status <> 'terminated'
	RETURNING
		` + taskColumns

	var task models.Task
	row := repo.db.QueryRowContext(ctx, query, status, UUID)
	err := scanTask(row, &task)
	if err != nil {
		return task, fmt.Errorf("repository.Repository.UpdateTaskStatus: %w", err)
	}
	return task, nil
}
