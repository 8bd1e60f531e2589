// Package memory is an in-process store with the same semantics as the
// postgres repository. It backs STORAGE=memory and the service tests.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"citydesk/internal/models"

	"github.com/google/uuid"
)

type issueRow struct {
	models.Issue
	seq int64
}

type taskRow struct {
	models.Task
	seq int64
}

type bidRow struct {
	models.Bid
	seq int64
}

type allocationRow struct {
	id, bidId, notes     string
	createdAt, updatedAt time.Time
	seq                  int64
}

type Store struct {
	mu  sync.RWMutex
	seq int64
	now func() time.Time

	issues      map[string]*issueRow
	tasks       map[string]*taskRow
	bids        map[string]*bidRow
	history     map[string][]models.BidTransition
	allocations map[string]*allocationRow
}

func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		issues:      make(map[string]*issueRow),
		tasks:       make(map[string]*taskRow),
		bids:        make(map[string]*bidRow),
		history:     make(map[string][]models.BidTransition),
		allocations: make(map[string]*allocationRow),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                  { return nil }

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

func notFound(op string) error {
	return fmt.Errorf("memory.Store.%s: %w", op, sql.ErrNoRows)
}

// page applies offset and limit to an already ordered slice.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

//// Issues

func (s *Store) AddIssue(ctx context.Context, issue models.Issue) (models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	issue.Id = uuid.NewString()
	issue.Status = models.IssueOpen
	issue.CreatedAt = now
	issue.UpdatedAt = now
	s.issues[issue.Id] = &issueRow{Issue: issue, seq: s.next()}
	return issue, nil
}

func (s *Store) GetIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*issueRow, 0, len(s.issues))
	for _, row := range s.issues {
		if len(filter.Department) > 0 && row.Department != filter.Department {
			continue
		}
		if len(filter.Status) > 0 && row.Status != filter.Status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	result := make([]models.Issue, 0, len(rows))
	for _, row := range page(rows, filter.Limit, filter.Offset) {
		result = append(result, row.Issue)
	}
	return result, nil
}

func (s *Store) GetIssueByUUID(ctx context.Context, UUID string) (models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.issues[UUID]
	if !ok {
		return models.Issue{}, notFound("GetIssueByUUID")
	}
	return row.Issue, nil
}

func (s *Store) UpdateIssueStatus(ctx context.Context, UUID string, from, status models.IssueStatus) (models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.issues[UUID]
	if !ok || row.Status != from {
		return models.Issue{}, notFound("UpdateIssueStatus")
	}
	row.Status = status
	row.UpdatedAt = s.now()
	return row.Issue, nil
}

func (s *Store) DeleteIssue(ctx context.Context, UUID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.issues[UUID]
	delete(s.issues, UUID)
	return ok, nil
}

//// Tasks

func (s *Store) AddTask(ctx context.Context, task models.Task) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	task.Id = uuid.NewString()
	task.Status = models.TaskAvailable
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.Id] = &taskRow{Task: task, seq: s.next()}
	return task, nil
}

func (s *Store) GetTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*taskRow, 0, len(s.tasks))
	for _, row := range s.tasks {
		if len(filter.Department) > 0 && row.Department != filter.Department {
			continue
		}
		if len(filter.Status) > 0 && row.Status != filter.Status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	result := make([]models.Task, 0, len(rows))
	for _, row := range page(rows, filter.Limit, filter.Offset) {
		result = append(result, row.Task)
	}
	return result, nil
}

func (s *Store) GetTaskByUUID(ctx context.Context, UUID string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tasks[UUID]
	if !ok {
		return models.Task{}, notFound("GetTaskByUUID")
	}
	return row.Task, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, UUID string, status models.TaskStatus) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tasks[UUID]
	if !ok || row.Status == models.TaskTerminated {
		return models.Task{}, notFound("UpdateTaskStatus")
	}
	row.Status = status
	row.UpdatedAt = s.now()
	return row.Task, nil
}

//// Bids

func (s *Store) AddBid(ctx context.Context, bid models.Bid) (models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[bid.TaskId]
	if !ok {
		return bid, fmt.Errorf("memory.Store.AddBid: %w", models.ErrNoTask)
	}
	if task.Status != models.TaskAvailable {
		return bid, fmt.Errorf("memory.Store.AddBid: %w", models.ErrTaskUnavailable)
	}
	for _, row := range s.bids {
		if row.TaskId == bid.TaskId && row.ProviderName == bid.ProviderName {
			return bid, fmt.Errorf("memory.Store.AddBid: %w", models.ErrDuplicateBid)
		}
	}

	now := s.now()
	bid.Id = uuid.NewString()
	bid.Status = models.BidPending
	bid.Reason = ""
	bid.CompletedDate = nil
	bid.CreatedAt = now
	bid.UpdatedAt = now
	s.bids[bid.Id] = &bidRow{Bid: bid, seq: s.next()}
	s.addBidTransition(bid)
	return bid, nil
}

func (s *Store) GetBids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*bidRow, 0, len(s.bids))
	for _, row := range s.bids {
		if len(filter.Department) > 0 && row.Department != filter.Department {
			continue
		}
		if len(filter.ProviderName) > 0 && row.ProviderName != filter.ProviderName {
			continue
		}
		if len(filter.TaskId) > 0 && row.TaskId != filter.TaskId {
			continue
		}
		if len(filter.Status) > 0 && row.Status != filter.Status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	result := make([]models.Bid, 0, len(rows))
	for _, row := range page(rows, filter.Limit, filter.Offset) {
		result = append(result, row.Bid)
	}
	return result, nil
}

func (s *Store) GetBidByUUID(ctx context.Context, UUID string) (models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.bids[UUID]
	if !ok {
		return models.Bid{}, notFound("GetBidByUUID")
	}
	return row.Bid, nil
}

func (s *Store) TransitionBid(ctx context.Context, bid models.Bid, from models.BidStatus) (models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.bids[bid.Id]
	if !ok || row.Status != from {
		return bid, fmt.Errorf("memory.Store.TransitionBid: %w", models.ErrStatusChanged)
	}

	to := bid.Status
	row.Status = to
	row.Reason = bid.Reason
	row.CompletedDate = bid.CompletedDate
	row.UpdatedAt = s.now()

	switch {
	case from == models.BidPending && to == models.BidApproved:
		id := uuid.NewString()
		s.allocations[id] = &allocationRow{id: id, bidId: row.Id, createdAt: row.UpdatedAt, updatedAt: row.UpdatedAt, seq: s.next()}
	case to == models.BidTerminated:
		for id, alloc := range s.allocations {
			if alloc.bidId == row.Id {
				delete(s.allocations, id)
			}
		}
	}

	s.addBidTransition(row.Bid)
	return row.Bid, nil
}

func (s *Store) addBidTransition(bid models.Bid) {
	s.history[bid.Id] = append(s.history[bid.Id], models.BidTransition{
		BidId:         bid.Id,
		Status:        bid.Status,
		Reason:        bid.Reason,
		CompletedDate: bid.CompletedDate,
		ChangedAt:     bid.UpdatedAt,
	})
}

func (s *Store) GetBidHistory(ctx context.Context, UUID string) ([]models.BidTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.BidTransition, len(s.history[UUID]))
	copy(result, s.history[UUID])
	return result, nil
}

//// Allocations

// view joins an allocation row with its bid and task. Fields read through
// from a missing bid stay zero, like the LEFT JOIN in the postgres repository.
func (s *Store) view(row *allocationRow) models.Allocation {
	alloc := models.Allocation{
		Id:        row.id,
		BidId:     row.bidId,
		Notes:     row.notes,
		CreatedAt: row.createdAt,
		UpdatedAt: row.updatedAt,
	}

	bid, ok := s.bids[row.bidId]
	if !ok {
		return alloc
	}
	alloc.TaskId = bid.TaskId
	alloc.Department = bid.Department
	alloc.ProviderName = bid.ProviderName
	alloc.BidAmount = bid.Amount
	alloc.Status = bid.Status
	alloc.Reason = bid.Reason
	alloc.CompletedDate = bid.CompletedDate

	if task, ok := s.tasks[bid.TaskId]; ok {
		alloc.TaskDescription = task.Description
		alloc.Resources = task.Resources
		alloc.Timeline = task.Timeline
	}
	return alloc
}

func (s *Store) GetAllocations(ctx context.Context, filter models.AllocationFilter) ([]models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*allocationRow, 0, len(s.allocations))
	for _, row := range s.allocations {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	result := []models.Allocation{}
	for _, row := range rows {
		alloc := s.view(row)
		if len(filter.Department) > 0 && alloc.Department != filter.Department {
			continue
		}
		switch filter.View {
		case models.AllocationsActive, "":
			if !alloc.Status.Allocated() {
				continue
			}
		case models.AllocationsCompleted:
			if alloc.Status != models.BidCompleted {
				continue
			}
		}
		result = append(result, alloc)
	}
	return page(result, filter.Limit, filter.Offset), nil
}

func (s *Store) GetAllocationByUUID(ctx context.Context, UUID string) (models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.allocations[UUID]
	if !ok {
		return models.Allocation{}, notFound("GetAllocationByUUID")
	}
	return s.view(row), nil
}

func (s *Store) GetAllocationByBid(ctx context.Context, bidId string) (models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.allocations {
		if row.bidId == bidId {
			return s.view(row), nil
		}
	}
	return models.Allocation{}, notFound("GetAllocationByBid")
}

func (s *Store) UpdateAllocationNotes(ctx context.Context, UUID, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.allocations[UUID]
	if !ok {
		return notFound("UpdateAllocationNotes")
	}
	row.notes = notes
	row.updatedAt = s.now()
	return nil
}
