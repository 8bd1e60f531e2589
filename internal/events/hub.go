package events

import (
	"sync"
	"time"

	"citydesk/internal/models"
)

type Entity string

const (
	EntityIssue      Entity = "issue"
	EntityTask       Entity = "task"
	EntityBid        Entity = "bid"
	EntityAllocation Entity = "allocation"
)

// Event tells dashboards that an entity of a department changed and should be re-fetched.
type Event struct {
	Type       string            `json:"type"`
	Entity     Entity            `json:"entity"`
	Id         string            `json:"id"`
	BidId      string            `json:"bid_id,omitempty"`
	Department models.Department `json:"department"`
	Status     string            `json:"status,omitempty"`
	At         time.Time         `json:"at"`
}

type subscriber struct {
	department models.Department
	ch         chan Event
}

// Hub fans events out to subscribers keyed by department. A subscriber with an
// empty department receives everything. Slow subscribers lose events instead
// of blocking publishers; clients fall back to polling anyway.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(department models.Department) (<-chan Event, func()) {
	sub := &subscriber{department: department, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.remove(sub)
	}
	return sub.ch, cancel
}

func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if len(sub.department) > 0 && sub.department != e.Department {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *subscriber) {
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription, so open streams finish on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.remove(sub)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
