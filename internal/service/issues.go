package service

import (
	"context"
	"strings"

	"citydesk/internal/events"
	"citydesk/internal/models"
)

func (s *Service) ReportIssue(ctx context.Context, issue models.Issue) (models.Issue, error) {
	var err error

	issue.Type = strings.TrimSpace(issue.Type)
	if err = checkLengthLimit(issue.Type, "type", 50); err != nil {
		return models.Issue{}, wrap("ReportIssue", err)
	}

	// the report form only sends a type; it names the department when it is one
	if len(issue.Department) == 0 {
		if dept, ok := s.departments.Parse(issue.Type); ok {
			issue.Department = dept
		}
	}
	issue.Department, err = s.ParseDepartment(string(issue.Department))
	if err != nil {
		return models.Issue{}, wrap("ReportIssue", err)
	}

	if issue.Description, err = requireText(issue.Description, "description", 2000); err != nil {
		return models.Issue{}, wrap("ReportIssue", err)
	}
	if issue.Location, err = requireText(issue.Location, "location", 255); err != nil {
		return models.Issue{}, wrap("ReportIssue", err)
	}

	if err = s.authorize(ctx, "", models.RoleResident, models.RoleAuthority); err != nil {
		return models.Issue{}, wrap("ReportIssue", err)
	}

	issue, err = s.repo.AddIssue(ctx, issue)
	if err != nil {
		return models.Issue{}, wrap("ReportIssue", err)
	}

	s.publish(events.Event{Type: "reported", Entity: events.EntityIssue, Id: issue.Id, Department: issue.Department, Status: string(issue.Status)})
	return issue, nil
}

func (s *Service) ListIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error) {
	if len(filter.Status) > 0 && !models.ValidIssueStatus(filter.Status) {
		return nil, wrap("ListIssues", models.Validation("invalid issue status supplied: %s, should be one of: %s, %s", filter.Status, models.IssueOpen, models.IssueResolved))
	}
	issues, err := s.repo.GetIssues(ctx, filter)
	if err != nil {
		return nil, wrap("ListIssues", err)
	}
	return issues, nil
}

func (s *Service) GetIssue(ctx context.Context, issueId string) (models.Issue, error) {
	issue, err := s.repo.GetIssueByUUID(ctx, issueId)
	if err != nil {
		return models.Issue{}, wrap("GetIssue", notFoundAs(err, models.ErrNoIssue))
	}
	return issue, nil
}

// ResolveIssue is idempotent: resolving a resolved issue returns it unchanged.
func (s *Service) ResolveIssue(ctx context.Context, issueId string) (models.Issue, error) {
	issue, err := s.repo.GetIssueByUUID(ctx, issueId)
	if err != nil {
		return models.Issue{}, wrap("ResolveIssue", notFoundAs(err, models.ErrNoIssue))
	}

	if err = s.authorize(ctx, issue.Department, models.RoleAuthority); err != nil {
		return models.Issue{}, wrap("ResolveIssue", err)
	}

	if issue.Status == models.IssueResolved {
		return issue, nil
	}

	resolved, err := s.repo.UpdateIssueStatus(ctx, issue.Id, models.IssueOpen, models.IssueResolved)
	if isNoRows(err) {
		// resolved or deleted by a concurrent request
		current, err := s.repo.GetIssueByUUID(ctx, issue.Id)
		if err != nil {
			return models.Issue{}, wrap("ResolveIssue", notFoundAs(err, models.ErrNoIssue))
		}
		return current, nil
	} else if err != nil {
		return models.Issue{}, wrap("ResolveIssue", err)
	}

	s.publish(events.Event{Type: "resolved", Entity: events.EntityIssue, Id: resolved.Id, Department: resolved.Department, Status: string(resolved.Status)})
	return resolved, nil
}

// DeleteIssue removes the issue permanently. Deleting a missing issue is not an error.
func (s *Service) DeleteIssue(ctx context.Context, issueId string) error {
	issue, err := s.repo.GetIssueByUUID(ctx, issueId)
	if isNoRows(err) {
		if err = s.authorize(ctx, "", models.RoleAuthority); err != nil {
			return wrap("DeleteIssue", err)
		}
		return nil
	} else if err != nil {
		return wrap("DeleteIssue", err)
	}

	if err = s.authorize(ctx, issue.Department, models.RoleAuthority); err != nil {
		return wrap("DeleteIssue", err)
	}

	deleted, err := s.repo.DeleteIssue(ctx, issue.Id)
	if err != nil {
		return wrap("DeleteIssue", err)
	}

	if deleted {
		s.publish(events.Event{Type: "deleted", Entity: events.EntityIssue, Id: issue.Id, Department: issue.Department})
	}
	return nil
}
