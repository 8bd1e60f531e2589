package controller

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"citydesk/internal/models"

	"github.com/google/uuid"
)

// New issue request

type NewIssueReq struct {
	Type        string `json:"type"`
	Department  string `json:"department"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func ParseNewIssueReq(data []byte) (*NewIssueReq, error) {
	t := &NewIssueReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(t.Department)) == 0 && len(strings.TrimSpace(t.Type)) == 0 {
		return nil, fmt.Errorf("field 'department' is required")
	}

	return t, nil
}

// New task request

type NewTaskReq struct {
	Department  string `json:"department"`
	Description string `json:"description"`
	Resources   string `json:"resources"`
	Timeline    string `json:"timeline"`
}

func ParseNewTaskReq(data []byte) (*NewTaskReq, error) {
	t := &NewTaskReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(t.Department)) == 0 {
		return nil, fmt.Errorf("field 'department' is required")
	}

	return t, nil
}

// Task status request

type TaskStatusReq struct {
	Status string `json:"status"`
}

func ParseTaskStatusReq(data []byte) (models.TaskStatus, error) {
	t := &TaskStatusReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return "", err
	}

	status, ok := models.ParseTaskStatus(t.Status)
	if !ok {
		return "", fmt.Errorf("invalid task status supplied: %s, should be one of: %s, %s, %s", t.Status, models.TaskAvailable, models.TaskSuspended, models.TaskTerminated)
	}
	return status, nil
}

// New bid request

type NewBidReq struct {
	TaskId       string        `json:"task_id"`
	Department   string        `json:"department"`
	ProviderName string        `json:"provider_name"`
	Amount       models.Amount `json:"bid_amount"`
}

func ParseNewBidReq(data []byte) (*NewBidReq, error) {
	t := &NewBidReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, err
	}

	if _, err = uuid.Parse(t.TaskId); err != nil {
		return nil, fmt.Errorf("invalid task_id supplied: %s", t.TaskId)
	}

	return t, nil
}

// Bid status request

type BidStatusReq struct {
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	CompletedDate string `json:"completed_date"`
}

type BidStatusChange struct {
	Status models.BidStatus
	Change models.BidChange
}

func ParseBidStatusReq(data []byte) (*BidStatusChange, error) {
	t := &BidStatusReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, err
	}

	status, ok := models.ParseBidStatus(t.Status)
	if !ok {
		return nil, fmt.Errorf("invalid bid status supplied: %s, should be one of: %s, %s, %s, %s, %s, %s", t.Status,
			models.BidPending, models.BidApproved, models.BidRejected, models.BidSuspended, models.BidCompleted, models.BidTerminated)
	}

	change, err := parseChange(t.Reason, t.CompletedDate)
	if err != nil {
		return nil, err
	}

	return &BidStatusChange{Status: status, Change: change}, nil
}

// Allocation requests

type AllocationNotesReq struct {
	Notes *string `json:"notes"`
}

func ParseAllocationNotesReq(data []byte) (string, error) {
	t := &AllocationNotesReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return "", err
	}

	if t.Notes == nil {
		return "", fmt.Errorf("field 'notes' is required")
	}
	return *t.Notes, nil
}

type AllocationActionReq struct {
	Action        string `json:"action"`
	Reason        string `json:"reason"`
	CompletedDate string `json:"completed_date"`
}

type AllocationActionChange struct {
	Action models.AllocationAction
	Change models.BidChange
}

func ParseAllocationActionReq(data []byte) (*AllocationActionChange, error) {
	t := &AllocationActionReq{}

	err := json.Unmarshal(data, t)
	if err != nil {
		return nil, err
	}

	action, ok := models.ParseAllocationAction(t.Action)
	if !ok {
		return nil, fmt.Errorf("invalid allocation action supplied: %s, should be one of: %s, %s, %s, %s", t.Action,
			models.ActionComplete, models.ActionSuspend, models.ActionResume, models.ActionTerminate)
	}

	change, err := parseChange(t.Reason, t.CompletedDate)
	if err != nil {
		return nil, err
	}

	return &AllocationActionChange{Action: action, Change: change}, nil
}

// Service

// dateLayouts are the completion date formats accepted from dashboards: a
// date picker value or a full timestamp.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

func parseChange(reason, completedDate string) (models.BidChange, error) {
	change := models.BidChange{Reason: reason}

	completedDate = strings.TrimSpace(completedDate)
	if len(completedDate) == 0 {
		return change, nil
	}

	for _, layout := range dateLayouts {
		if date, err := time.Parse(layout, completedDate); err == nil {
			date = date.UTC()
			change.CompletedDate = &date
			return change, nil
		}
	}
	return change, fmt.Errorf("invalid completed_date supplied: %s, expected YYYY-MM-DD", completedDate)
}
