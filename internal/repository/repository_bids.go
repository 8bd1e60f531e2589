package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"citydesk/internal/models"
)

const bidColumns = `id, task_id, department, provider_name, bid_amount, status, reason, completed_date, created_at, updated_at`

func scanBid(row rowScanner, bid *models.Bid) error {
	var completed sql.NullTime
	err := row.Scan(&bid.Id, &bid.TaskId, &bid.Department, &bid.ProviderName, &bid.Amount, &bid.Status, &bid.Reason, &completed, &bid.CreatedAt, &bid.UpdatedAt)
	if err != nil {
		return err
	}
	bid.CompletedDate = nullTimePtr(completed)
	return nil
}

// AddBid inserts a pending bid after re-checking, under a share lock on the task
// row, that the task still accepts bids.
func (repo *Repository) AddBid(ctx context.Context, bid models.Bid) (models.Bid, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.AddBid: failed to start transaction: %w", err)
	}

	var taskStatus models.TaskStatus
	row := tx.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = $1 FOR SHARE", bid.TaskId)
	err = row.Scan(&taskStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return bid, fmt.Errorf("repository.Repository.AddBid: %w", wrapRollbackErr(tx, models.ErrNoTask))
	} else if err != nil {
		return bid, fmt.Errorf("repository.Repository.AddBid: %w", wrapRollbackErr(tx, err))
	}
	if taskStatus != models.TaskAvailable {
		return bid, fmt.Errorf("repository.Repository.AddBid: %w", wrapRollbackErr(tx, models.ErrTaskUnavailable))
	}

	query := `
	INSERT INTO bids (task_id, department, provider_name, bid_amount, status)
	VALUES
		($1, $2, $3, $4, 'pending')
	RETURNING
		` + bidColumns

	row = tx.QueryRowContext(ctx, query, bid.TaskId, bid.Department, bid.ProviderName, bid.Amount)
	err = scanBid(row, &bid)
	if isUniqueViolation(err) {
		return bid, fmt.Errorf("repository.Repository.AddBid: %w", wrapRollbackErr(tx, models.ErrDuplicateBid))
	} else if err != nil {
		return bid, fmt.Errorf("repository.Repository.AddBid: scan failed: %w", wrapRollbackErr(tx, err))
	}

	err = repo.addBidTransition(ctx, tx, bid)
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.AddBid: %w", wrapRollbackErr(tx, err))
	}

	err = tx.Commit()
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.AddBid: failed to commit transaction: %w", err)
	}

	return bid, nil
}

func (repo *Repository) GetBids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error) {
	q := newListQuery(filter.Limit, filter.Offset)
	if len(filter.Department) > 0 {
		q.where("department = $$", filter.Department)
	}
	if len(filter.ProviderName) > 0 {
		q.where("provider_name = $$", filter.ProviderName)
	}
	if len(filter.TaskId) > 0 {
		q.where("task_id = $$", filter.TaskId)
	}
	if len(filter.Status) > 0 {
		q.where("status = $$", filter.Status)
	}

	query, params := q.build(`
	SELECT
		` + bidColumns + `
	FROM bids
	$conditions$
	ORDER BY created_at DESC, id
	LIMIT $1
	OFFSET $2
	`)

	rows, err := repo.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetBids: %w", err)
	}
	defer rows.Close()

	result := []models.Bid{}
	for rows.Next() {
		var bid models.Bid
		err = scanBid(rows, &bid)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetBids: rows scan error: %w", err)
		}
		result = append(result, bid)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetBids: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) GetBidByUUID(ctx context.Context, UUID string) (models.Bid, error) {
	var bid models.Bid
	row := repo.db.QueryRowContext(ctx, "SELECT "+bidColumns+" FROM bids WHERE id = $1", UUID)
	err := scanBid(row, &bid)
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.GetBidByUUID: %w", err)
	}
	return bid, nil
}

// TransitionBid stores bid's new status, reason and completion date if the
// stored status still equals from. Approving a pending bid creates its
// allocation and terminating removes it, in the same transaction.
func (repo *Repository) TransitionBid(ctx context.Context, bid models.Bid, from models.BidStatus) (models.Bid, error) {
	query := `
	UPDATE bids
	SET (status, reason, completed_date, updated_at) = ($1, $2, $3, CURRENT_TIMESTAMP)
	WHERE id = $4 AND status = $5
	RETURNING
		` + bidColumns

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.TransitionBid: failed to start transaction: %w", err)
	}

	to := bid.Status
	row := tx.QueryRowContext(ctx, query, to, bid.Reason, bid.CompletedDate, bid.Id, from)
	err = scanBid(row, &bid)
	if errors.Is(err, sql.ErrNoRows) {
		return bid, fmt.Errorf("repository.Repository.TransitionBid: %w", wrapRollbackErr(tx, models.ErrStatusChanged))
	} else if err != nil {
		return bid, fmt.Errorf("repository.Repository.TransitionBid: %w", wrapRollbackErr(tx, err))
	}

	switch {
	case from == models.BidPending && to == models.BidApproved:
		_, err = tx.ExecContext(ctx, "INSERT INTO allocations (bid_id) VALUES ($1)", bid.Id)
	case to == models.BidTerminated:
		_, err = tx.ExecContext(ctx, "DELETE FROM allocations WHERE bid_id = $1", bid.Id)
	}
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.TransitionBid: allocation update failed: %w", wrapRollbackErr(tx, err))
	}

	err = repo.addBidTransition(ctx, tx, bid)
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.TransitionBid: %w", wrapRollbackErr(tx, err))
	}

	err = tx.Commit()
	if err != nil {
		return bid, fmt.Errorf("repository.Repository.TransitionBid: failed to commit transaction: %w", err)
	}

	return bid, nil
}

//// History

func (repo *Repository) addBidTransition(ctx context.Context, tx *sql.Tx, bid models.Bid) error {
	query := `
	INSERT INTO bid_history (bid_id, status, reason, completed_date, changed_at)
	VALUES
		($1, $2, $3, $4, $5)
	`

	_, err := tx.ExecContext(ctx, query, bid.Id, bid.Status, bid.Reason, bid.CompletedDate, bid.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.Repository.addBidTransition: %w", err)
	}
	return nil
}

func (repo *Repository) GetBidHistory(ctx context.Context, UUID string) ([]models.BidTransition, error) {
	query := `
	SELECT bid_id, status, reason, completed_date, changed_at
	FROM bid_history
	WHERE bid_id = $1
	ORDER BY changed_at, id
	`

	rows, err := repo.db.QueryContext(ctx, query, UUID)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetBidHistory: %w", err)
	}
	defer rows.Close()

	result := []models.BidTransition{}
	for rows.Next() {
		var entry models.BidTransition
		var completed sql.NullTime
		err = rows.Scan(&entry.BidId, &entry.Status, &entry.Reason, &completed, &entry.ChangedAt)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetBidHistory: rows scan error: %w", err)
		}
		entry.CompletedDate = nullTimePtr(completed)
		result = append(result, entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetBidHistory: %w", rows.Err())
	}

	return result, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
