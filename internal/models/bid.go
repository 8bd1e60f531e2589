package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type BidStatus string

const (
	BidPending    BidStatus = "pending"
	BidApproved   BidStatus = "approved"
	BidRejected   BidStatus = "rejected"
	BidSuspended  BidStatus = "suspended"
	BidCompleted  BidStatus = "completed"
	BidTerminated BidStatus = "terminated"
)

func ValidBidStatus(s BidStatus) bool {
	switch s {
	case BidPending, BidApproved, BidRejected, BidSuspended, BidCompleted, BidTerminated:
		return true
	default:
		return false
	}
}

func ParseBidStatus(s string) (BidStatus, bool) {
	status := BidStatus(strings.ToLower(strings.TrimSpace(s)))
	return status, ValidBidStatus(status)
}

var bidTransitions = map[BidStatus][]BidStatus{
	BidPending:   {BidApproved, BidRejected},
	BidApproved:  {BidCompleted, BidSuspended, BidTerminated},
	BidSuspended: {BidApproved, BidCompleted, BidTerminated},
}

// Terminal statuses accept no further transitions.
func (s BidStatus) Terminal() bool {
	return len(bidTransitions[s]) == 0
}

// Allocated reports whether a bid in this status is backed by an active allocation.
func (s BidStatus) Allocated() bool {
	return s == BidApproved || s == BidSuspended
}

func BidTransitionAllowed(from, to BidStatus) bool {
	for _, next := range bidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Amount is a bid price. It decodes from a JSON number or a numeric string,
// since dashboards send the value straight from a text input.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("bid amount is not a number: %s", string(data))
	}
	*a = Amount(v)
	return nil
}

type Bid struct {
	Id            string     `json:"id"`
	TaskId        string     `json:"task_id"`
	Department    Department `json:"department"`
	ProviderName  string     `json:"provider_name"`
	Amount        Amount     `json:"bid_amount"`
	Status        BidStatus  `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BidChange carries the optional payload of a status transition.
type BidChange struct {
	Reason        string
	CompletedDate *time.Time
}

// BidTransition is one entry of a bid's status history.
type BidTransition struct {
	BidId         string     `json:"bid_id"`
	Status        BidStatus  `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	ChangedAt     time.Time  `json:"changed_at"`
}

type BidFilter struct {
	Department   Department
	ProviderName string
	TaskId       string
	Status       BidStatus
	Limit        int
	Offset       int
}
