package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"citydesk/internal/models"

	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 5 * time.Second

// Snapshot is the last successfully fetched state of a department's dashboard.
type Snapshot struct {
	Department  models.Department
	Issues      []models.Issue
	Tasks       []models.Task
	Bids        []models.Bid
	Allocations []models.Allocation
	FetchedAt   time.Time
}

// Poller keeps a read-through Snapshot fresh. Each successful poll replaces
// the snapshot as a whole; it is never modified locally.
type Poller struct {
	client     *Client
	department models.Department
	interval   time.Duration
	log        logrus.FieldLogger
	onUpdate   func(Snapshot)

	mu   sync.RWMutex
	snap Snapshot
}

type PollerOption func(*Poller)

// ForDepartment limits the snapshot to one department.
func ForDepartment(dept models.Department) PollerOption {
	return func(p *Poller) {
		p.department = dept
	}
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(log logrus.FieldLogger) PollerOption {
	return func(p *Poller) {
		p.log = log
	}
}

// OnUpdate registers fn to be called with every new snapshot.
func OnUpdate(fn func(Snapshot)) PollerOption {
	return func(p *Poller) {
		p.onUpdate = fn
	}
}

func NewPoller(c *Client, opts ...PollerOption) *Poller {
	p := &Poller{client: c, interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	return p
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Refresh polls once. On failure the previous snapshot is kept and the error returned.
func (p *Poller) Refresh(ctx context.Context) error {
	snap := Snapshot{Department: p.department}
	var err error

	snap.Tasks, err = p.client.ListTasks(ctx, p.department, "")
	if err != nil {
		return fmt.Errorf("client.Poller.Refresh: tasks: %w", err)
	}
	snap.Issues, err = p.client.ListIssues(ctx, p.department, "")
	if err != nil {
		return fmt.Errorf("client.Poller.Refresh: issues: %w", err)
	}
	snap.Bids, err = p.client.ListBids(ctx, models.BidFilter{Department: p.department})
	if err != nil {
		return fmt.Errorf("client.Poller.Refresh: bids: %w", err)
	}
	snap.Allocations, err = p.client.ListAllocations(ctx, p.department, models.AllocationsAll)
	if err != nil {
		return fmt.Errorf("client.Poller.Refresh: allocations: %w", err)
	}
	snap.FetchedAt = time.Now()

	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(snap)
	}
	return nil
}

// Run polls immediately and then every interval until ctx is done. Failed
// polls are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.WithField("department", p.department).Warn(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
