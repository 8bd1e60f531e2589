package service

import (
	"context"

	"citydesk/internal/events"
	"citydesk/internal/models"
)

func (s *Service) PostTask(ctx context.Context, task models.Task) (models.Task, error) {
	var err error

	task.Department, err = s.ParseDepartment(string(task.Department))
	if err != nil {
		return models.Task{}, wrap("PostTask", err)
	}
	if task.Description, err = requireText(task.Description, "description", 2000); err != nil {
		return models.Task{}, wrap("PostTask", err)
	}
	if task.Resources, err = requireText(task.Resources, "resources", 2000); err != nil {
		return models.Task{}, wrap("PostTask", err)
	}
	if task.Timeline, err = requireText(task.Timeline, "timeline", 100); err != nil {
		return models.Task{}, wrap("PostTask", err)
	}

	if err = s.authorize(ctx, task.Department, models.RoleAuthority); err != nil {
		return models.Task{}, wrap("PostTask", err)
	}

	task, err = s.repo.AddTask(ctx, task)
	if err != nil {
		return models.Task{}, wrap("PostTask", err)
	}

	s.publish(events.Event{Type: "posted", Entity: events.EntityTask, Id: task.Id, Department: task.Department, Status: string(task.Status)})
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	if len(filter.Status) > 0 && !models.ValidTaskStatus(filter.Status) {
		return nil, wrap("ListTasks", models.Validation("invalid task status supplied: %s", filter.Status))
	}
	tasks, err := s.repo.GetTasks(ctx, filter)
	if err != nil {
		return nil, wrap("ListTasks", err)
	}
	return tasks, nil
}

func (s *Service) GetTask(ctx context.Context, taskId string) (models.Task, error) {
	task, err := s.repo.GetTaskByUUID(ctx, taskId)
	if err != nil {
		return models.Task{}, wrap("GetTask", notFoundAs(err, models.ErrNoTask))
	}
	return task, nil
}

// SetTaskStatus switches a task between available and suspended, or
// terminates it. Terminated tasks reject every further change.
func (s *Service) SetTaskStatus(ctx context.Context, taskId string, status models.TaskStatus) (models.Task, error) {
	if !models.ValidTaskStatus(status) {
		return models.Task{}, wrap("SetTaskStatus", models.Validation("invalid task status supplied: %s, should be one of: %s, %s, %s", status, models.TaskAvailable, models.TaskSuspended, models.TaskTerminated))
	}

	task, err := s.repo.GetTaskByUUID(ctx, taskId)
	if err != nil {
		return models.Task{}, wrap("SetTaskStatus", notFoundAs(err, models.ErrNoTask))
	}

	if err = s.authorize(ctx, task.Department, models.RoleAuthority); err != nil {
		return models.Task{}, wrap("SetTaskStatus", err)
	}

	if !models.TaskTransitionAllowed(task.Status, status) {
		return models.Task{}, wrap("SetTaskStatus", models.ErrTaskTerminated)
	}
	if task.Status == status {
		return task, nil
	}

	task, err = s.repo.UpdateTaskStatus(ctx, task.Id, status)
	if isNoRows(err) {
		// tasks are never deleted, so the row was terminated meanwhile
		return models.Task{}, wrap("SetTaskStatus", models.ErrTaskTerminated)
	} else if err != nil {
		return models.Task{}, wrap("SetTaskStatus", err)
	}

	s.publish(events.Event{Type: "status_changed", Entity: events.EntityTask, Id: task.Id, Department: task.Department, Status: string(task.Status)})
	return task, nil
}
