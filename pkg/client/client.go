// Package client is a typed HTTP client for the citydesk API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"citydesk/internal/models"
)

type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
}

const DefaultTimeout = 10 * time.Second

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		HTTPClient:  &http.Client{Timeout: DefaultTimeout},
	}
}

// APIError wraps non-2xx responses. It matches the models error kind named
// by the response, so errors.Is(err, models.ErrConflict) works on the client side.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d kind=%s: %s", e.StatusCode, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "validation":
		return models.ErrValidation
	case "not_found":
		return models.ErrNotFound
	case "conflict":
		return models.ErrConflict
	case "integrity":
		return models.ErrIntegrity
	case "unauthorized":
		return models.ErrUnauthorized
	case "forbidden":
		return models.ErrForbidden
	default:
		return nil
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "ping", nil, nil)
}

func (c *Client) Departments(ctx context.Context) ([]models.Department, error) {
	var resp []models.Department
	err := c.do(ctx, http.MethodGet, "departments", nil, &resp)
	return resp, err
}

//// Issues

func (c *Client) ReportIssue(ctx context.Context, issue models.Issue) (models.Issue, error) {
	body := map[string]any{
		"type":        issue.Type,
		"department":  issue.Department,
		"description": issue.Description,
		"location":    issue.Location,
	}
	var resp models.Issue
	err := c.do(ctx, http.MethodPost, "issues", body, &resp)
	return resp, err
}

func (c *Client) ListIssues(ctx context.Context, department models.Department, status models.IssueStatus) ([]models.Issue, error) {
	q := url.Values{}
	setQuery(q, "department", string(department))
	setQuery(q, "status", string(status))

	var resp []models.Issue
	err := c.do(ctx, http.MethodGet, withQuery("issues", q), nil, &resp)
	return resp, err
}

func (c *Client) ResolveIssue(ctx context.Context, issueId string) (models.Issue, error) {
	var resp models.Issue
	err := c.do(ctx, http.MethodPatch, "issues/"+url.PathEscape(issueId)+"/resolve", nil, &resp)
	return resp, err
}

func (c *Client) DeleteIssue(ctx context.Context, issueId string) error {
	return c.do(ctx, http.MethodDelete, "issues/"+url.PathEscape(issueId), nil, nil)
}

//// Tasks

func (c *Client) PostTask(ctx context.Context, task models.Task) (models.Task, error) {
	body := map[string]any{
		"department":  task.Department,
		"description": task.Description,
		"resources":   task.Resources,
		"timeline":    task.Timeline,
	}
	var resp models.Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, department models.Department, status models.TaskStatus) ([]models.Task, error) {
	q := url.Values{}
	setQuery(q, "department", string(department))
	setQuery(q, "status", string(status))

	var resp []models.Task
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

func (c *Client) SetTaskStatus(ctx context.Context, taskId string, status models.TaskStatus) (models.Task, error) {
	var resp models.Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(taskId)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

//// Bids

func (c *Client) PlaceBid(ctx context.Context, bid models.Bid) (models.Bid, error) {
	body := map[string]any{
		"task_id":       bid.TaskId,
		"department":    bid.Department,
		"provider_name": bid.ProviderName,
		"bid_amount":    float64(bid.Amount),
	}
	var resp models.Bid
	err := c.do(ctx, http.MethodPost, "bids", body, &resp)
	return resp, err
}

func (c *Client) ListBids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error) {
	q := url.Values{}
	setQuery(q, "department", string(filter.Department))
	setQuery(q, "provider", filter.ProviderName)
	setQuery(q, "task_id", filter.TaskId)
	setQuery(q, "status", string(filter.Status))

	var resp []models.Bid
	err := c.do(ctx, http.MethodGet, withQuery("bids", q), nil, &resp)
	return resp, err
}

func (c *Client) SetBidStatus(ctx context.Context, bidId string, status models.BidStatus, change models.BidChange) (models.Bid, error) {
	body := changeBody(change)
	body["status"] = status

	var resp models.Bid
	err := c.do(ctx, http.MethodPatch, "bids/"+url.PathEscape(bidId)+"/status", body, &resp)
	return resp, err
}

func (c *Client) BidHistory(ctx context.Context, bidId string) ([]models.BidTransition, error) {
	var resp []models.BidTransition
	err := c.do(ctx, http.MethodGet, "bids/"+url.PathEscape(bidId)+"/history", nil, &resp)
	return resp, err
}

//// Allocations

func (c *Client) ListAllocations(ctx context.Context, department models.Department, view models.AllocationView) ([]models.Allocation, error) {
	q := url.Values{}
	setQuery(q, "department", string(department))
	setQuery(q, "view", string(view))

	var resp []models.Allocation
	err := c.do(ctx, http.MethodGet, withQuery("allocations", q), nil, &resp)
	return resp, err
}

func (c *Client) AnnotateAllocation(ctx context.Context, allocationId, notes string) (models.Allocation, error) {
	var resp models.Allocation
	err := c.do(ctx, http.MethodPatch, "allocations/"+url.PathEscape(allocationId), map[string]any{"notes": notes}, &resp)
	return resp, err
}

// ActOnAllocation returns nil after terminate, since the allocation is removed.
func (c *Client) ActOnAllocation(ctx context.Context, allocationId string, action models.AllocationAction, change models.BidChange) (*models.Allocation, error) {
	body := changeBody(change)
	body["action"] = action

	var resp *models.Allocation
	err := c.do(ctx, http.MethodPatch, "allocations/"+url.PathEscape(allocationId)+"/action", body, &resp)
	return resp, err
}

// Service

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	target := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("client.Client.do: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return fmt.Errorf("client.Client.do: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.BearerToken) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client.Client.do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client.Client.do: could not decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}

	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(data, &body) == nil && len(body.Kind) > 0 {
		apiErr.Kind = body.Kind
		apiErr.Message = body.Error
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func changeBody(change models.BidChange) map[string]any {
	body := map[string]any{}
	if len(change.Reason) > 0 {
		body["reason"] = change.Reason
	}
	if change.CompletedDate != nil {
		body["completed_date"] = change.CompletedDate.Format("2006-01-02")
	}
	return body
}

func setQuery(q url.Values, key, value string) {
	if len(value) > 0 {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
