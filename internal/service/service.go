package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"citydesk/internal/events"
	"citydesk/internal/models"

	"github.com/sirupsen/logrus"
)

// Repository is the storage the service runs on. Lookups of missing rows
// return an error wrapping sql.ErrNoRows.
type Repository interface {
	AddIssue(ctx context.Context, issue models.Issue) (models.Issue, error)
	GetIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error)
	GetIssueByUUID(ctx context.Context, UUID string) (models.Issue, error)
	UpdateIssueStatus(ctx context.Context, UUID string, from, status models.IssueStatus) (models.Issue, error)
	DeleteIssue(ctx context.Context, UUID string) (bool, error)

	AddTask(ctx context.Context, task models.Task) (models.Task, error)
	GetTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	GetTaskByUUID(ctx context.Context, UUID string) (models.Task, error)
	UpdateTaskStatus(ctx context.Context, UUID string, status models.TaskStatus) (models.Task, error)

	AddBid(ctx context.Context, bid models.Bid) (models.Bid, error)
	GetBids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error)
	GetBidByUUID(ctx context.Context, UUID string) (models.Bid, error)
	TransitionBid(ctx context.Context, bid models.Bid, from models.BidStatus) (models.Bid, error)
	GetBidHistory(ctx context.Context, UUID string) ([]models.BidTransition, error)

	GetAllocations(ctx context.Context, filter models.AllocationFilter) ([]models.Allocation, error)
	GetAllocationByUUID(ctx context.Context, UUID string) (models.Allocation, error)
	GetAllocationByBid(ctx context.Context, bidId string) (models.Allocation, error)
	UpdateAllocationNotes(ctx context.Context, UUID, notes string) error
}

type Publisher interface {
	Publish(e events.Event)
}

type Service struct {
	repo        Repository
	departments *models.Departments
	publisher   Publisher
	log         logrus.FieldLogger
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		s.log = log
	}
}

func NewService(repo Repository, departments *models.Departments, opts ...Option) *Service {
	s := &Service{repo: repo, departments: departments}
	for _, opt := range opts {
		opt(s)
	}
	if s.departments == nil {
		s.departments = models.NewDepartments()
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

func (s *Service) Departments() []models.Department {
	return s.departments.All()
}

// ParseDepartment validates a department at the boundary.
func (s *Service) ParseDepartment(name string) (models.Department, error) {
	dept, ok := s.departments.Parse(name)
	if !ok {
		return "", models.Validation("unknown department %q, should be one of: %s", name, s.departmentList())
	}
	return dept, nil
}

func (s *Service) departmentList() string {
	all := s.departments.All()
	parts := make([]string, 0, len(all))
	for _, d := range all {
		parts = append(parts, string(d))
	}
	return strings.Join(parts, ", ")
}

//// Service

// authorize checks the caller stored in ctx. Without a caller (authentication
// disabled) everything is allowed. Authority accounts are limited to their own
// department whenever dept is known.
func (s *Service) authorize(ctx context.Context, dept models.Department, roles ...models.Role) error {
	actor, ok := models.ActorFromContext(ctx)
	if !ok {
		return nil
	}

	allowed := false
	for _, role := range roles {
		if actor.Role == role {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.ErrWrongRole
	}

	if actor.Role == models.RoleAuthority && len(dept) > 0 && actor.Department != dept {
		return models.ErrOtherDept
	}
	return nil
}

func (s *Service) publish(e events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}

func requireText(value, field string, limit int) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return "", models.Validation("field '%s' is required", field)
	}
	return value, checkLengthLimit(value, field, limit)
}

func checkLengthLimit(str, fieldName string, limit int) error {
	if n := utf8.RuneCountInString(str); n > limit {
		return models.Validation("field '%s' exceeds length limit: %d / %d", fieldName, n, limit)
	}
	return nil
}

// maxAmount bounds bid amounts to what NUMERIC(14,2) can hold.
const maxAmount = 1e12

// checkAmount accepts positive amounts in whole cents below maxAmount.
// Amounts are never rounded, so every store keeps exactly what was sent.
func checkAmount(a models.Amount) error {
	v := float64(a)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return models.Validation("field 'bid_amount' should be a positive number")
	}
	if v >= maxAmount {
		return models.Validation("field 'bid_amount' should be less than %.0f", maxAmount)
	}
	str := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(str, '.'); i >= 0 && len(str)-i-1 > 2 {
		return models.Validation("field 'bid_amount' should have at most 2 decimal places, got %s", str)
	}
	return nil
}

// notFoundAs maps a repository "no rows" error to the domain error target.
func notFoundAs(err, target error) error {
	if isNoRows(err) {
		return target
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func wrap(op string, err error) error {
	return fmt.Errorf("service.Service.%s: %w", op, err)
}
