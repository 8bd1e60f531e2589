package models

import (
	"strings"
	"time"
)

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

func ValidIssueStatus(s IssueStatus) bool {
	switch s {
	case IssueOpen, IssueResolved:
		return true
	default:
		return false
	}
}

func ParseIssueStatus(s string) (IssueStatus, bool) {
	status := IssueStatus(strings.ToLower(strings.TrimSpace(s)))
	return status, ValidIssueStatus(status)
}

type Issue struct {
	Id          string      `json:"id"`
	Type        string      `json:"type,omitempty"`
	Department  Department  `json:"department"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Status      IssueStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type IssueFilter struct {
	Department Department
	Status     IssueStatus
	Limit      int
	Offset     int
}
