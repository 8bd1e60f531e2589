package models

import (
	"strings"
	"time"
)

type AllocationAction string

const (
	ActionComplete  AllocationAction = "complete"
	ActionSuspend   AllocationAction = "suspend"
	ActionResume    AllocationAction = "resume"
	ActionTerminate AllocationAction = "terminate"
)

func ParseAllocationAction(s string) (AllocationAction, bool) {
	action := AllocationAction(strings.ToLower(strings.TrimSpace(s)))
	_, ok := action.BidStatus()
	return action, ok
}

// BidStatus is the status the underlying bid moves to when the action is applied.
func (a AllocationAction) BidStatus() (BidStatus, bool) {
	switch a {
	case ActionComplete:
		return BidCompleted, true
	case ActionSuspend:
		return BidSuspended, true
	case ActionResume:
		return BidApproved, true
	case ActionTerminate:
		return BidTerminated, true
	default:
		return "", false
	}
}

type AllocationView string

const (
	AllocationsActive    AllocationView = "active"
	AllocationsCompleted AllocationView = "completed"
	AllocationsAll       AllocationView = "all"
)

func ParseAllocationView(s string) (AllocationView, bool) {
	view := AllocationView(strings.ToLower(strings.TrimSpace(s)))
	switch view {
	case "":
		return AllocationsActive, true
	case AllocationsActive, AllocationsCompleted, AllocationsAll:
		return view, true
	default:
		return view, false
	}
}

// Allocation is the working assignment created when a bid is approved.
// Only Id, BidId and Notes are stored; the rest is read through from the bid
// and its task every time an allocation is loaded.
type Allocation struct {
	Id        string    `json:"id"`
	BidId     string    `json:"bid_id"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskId          string     `json:"task_id"`
	TaskDescription string     `json:"task_description"`
	Department      Department `json:"department"`
	ProviderName    string     `json:"provider_name"`
	BidAmount       Amount     `json:"bid_amount"`
	Resources       string     `json:"resources"`
	Timeline        string     `json:"timeline"`
	Status          BidStatus  `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	CompletedDate   *time.Time `json:"completed_date,omitempty"`
}

type AllocationFilter struct {
	Department Department
	View       AllocationView
	Limit      int
	Offset     int
}
