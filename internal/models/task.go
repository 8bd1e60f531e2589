package models

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskAvailable  TaskStatus = "available"
	TaskSuspended  TaskStatus = "suspended"
	TaskTerminated TaskStatus = "terminated"
)

func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskAvailable, TaskSuspended, TaskTerminated:
		return true
	default:
		return false
	}
}

// ParseTaskStatus also accepts "active", the name older dashboards use for available.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "active" {
		return TaskAvailable, true
	}
	status := TaskStatus(s)
	return status, ValidTaskStatus(status)
}

// TaskTransitionAllowed reports whether a task may move from one status to another.
// Terminated is absorbing; available and suspended switch freely.
func TaskTransitionAllowed(from, to TaskStatus) bool {
	return from != TaskTerminated && ValidTaskStatus(to)
}

type Task struct {
	Id          string     `json:"id"`
	Department  Department `json:"department"`
	Description string     `json:"description"`
	Resources   string     `json:"resources"`
	Timeline    string     `json:"timeline"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type TaskFilter struct {
	Department Department
	Status     TaskStatus
	Limit      int
	Offset     int
}
