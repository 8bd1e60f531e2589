package repository

import (
	"context"
	"database/sql"
	"fmt"

	"citydesk/internal/models"

	"github.com/lib/pq"
)

// Allocation rows only hold the bid reference and notes; everything else is
// joined from the bid and its task. A LEFT JOIN keeps allocations whose bid is
// missing visible so the service can report them as integrity errors.
const allocationSelect = `
	SELECT
		a.id, a.bid_id, a.notes, a.created_at, a.updated_at,
		b.task_id, t.description, b.department, b.provider_name, b.bid_amount,
		t.resources, t.timeline, b.status, b.reason, b.completed_date
	FROM allocations AS a
		LEFT JOIN bids AS b ON (b.id = a.bid_id)
		LEFT JOIN tasks AS t ON (t.id = b.task_id)
	`

func scanAllocation(row rowScanner, alloc *models.Allocation) error {
	var taskId, taskDescription, department, provider, resources, timeline, status, reason sql.NullString
	var amount sql.NullFloat64
	var completed sql.NullTime

	err := row.Scan(&alloc.Id, &alloc.BidId, &alloc.Notes, &alloc.CreatedAt, &alloc.UpdatedAt,
		&taskId, &taskDescription, &department, &provider, &amount,
		&resources, &timeline, &status, &reason, &completed)
	if err != nil {
		return err
	}

	alloc.TaskId = taskId.String
	alloc.TaskDescription = taskDescription.String
	alloc.Department = models.Department(department.String)
	alloc.ProviderName = provider.String
	alloc.BidAmount = models.Amount(amount.Float64)
	alloc.Resources = resources.String
	alloc.Timeline = timeline.String
	alloc.Status = models.BidStatus(status.String)
	alloc.Reason = reason.String
	alloc.CompletedDate = nullTimePtr(completed)
	return nil
}

func (repo *Repository) GetAllocations(ctx context.Context, filter models.AllocationFilter) ([]models.Allocation, error) {
	q := newListQuery(filter.Limit, filter.Offset)
	if len(filter.Department) > 0 {
		q.where("b.department = $$", filter.Department)
	}
	switch filter.View {
	case models.AllocationsActive, "":
		q.where("b.status = any($$)", pq.Array([]string{string(models.BidApproved), string(models.BidSuspended)}))
	case models.AllocationsCompleted:
		q.where("b.status = $$", models.BidCompleted)
	}

	query, params := q.build(allocationSelect + `
	$conditions$
	ORDER BY a.created_at DESC, a.id
	LIMIT $1
	OFFSET $2
	`)

	rows, err := repo.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetAllocations: %w", err)
	}
	defer rows.Close()

	result := []models.Allocation{}
	for rows.Next() {
		var alloc models.Allocation
		err = scanAllocation(rows, &alloc)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetAllocations: rows scan failed: %w", err)
		}
		result = append(result, alloc)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetAllocations: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) GetAllocationByUUID(ctx context.Context, UUID string) (models.Allocation, error) {
	var alloc models.Allocation
	row := repo.db.QueryRowContext(ctx, allocationSelect+"WHERE a.id = $1", UUID)
	err := scanAllocation(row, &alloc)
	if err != nil {
		return alloc, fmt.Errorf("repository.Repository.GetAllocationByUUID: %w", err)
	}
	return alloc, nil
}

func (repo *Repository) GetAllocationByBid(ctx context.Context, bidId string) (models.Allocation, error) {
	var alloc models.Allocation
	row := repo.db.QueryRowContext(ctx, allocationSelect+"WHERE a.bid_id = $1", bidId)
	err := scanAllocation(row, &alloc)
	if err != nil {
		return alloc, fmt.Errorf("repository.Repository.GetAllocationByBid: %w", err)
	}
	return alloc, nil
}

func (repo *Repository) UpdateAllocationNotes(ctx context.Context, UUID, notes string) error {
	query := `
	UPDATE allocations
	SET (notes, updated_at) = ($1, CURRENT_TIMESTAMP)
	WHERE id = $2
	`

	res, err := repo.db.ExecContext(ctx, query, notes, UUID)
	if err != nil {
		return fmt.Errorf("repository.Repository.UpdateAllocationNotes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository.Repository.UpdateAllocationNotes: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository.Repository.UpdateAllocationNotes: %w", sql.ErrNoRows)
	}
	return nil
}
