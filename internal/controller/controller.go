package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"citydesk/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Service interface {
	Departments() []models.Department
	ParseDepartment(name string) (models.Department, error)

	ReportIssue(ctx context.Context, issue models.Issue) (models.Issue, error)
	ListIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error)
	GetIssue(ctx context.Context, issueId string) (models.Issue, error)
	ResolveIssue(ctx context.Context, issueId string) (models.Issue, error)
	DeleteIssue(ctx context.Context, issueId string) error

	PostTask(ctx context.Context, task models.Task) (models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, taskId string) (models.Task, error)
	SetTaskStatus(ctx context.Context, taskId string, status models.TaskStatus) (models.Task, error)

	PlaceBid(ctx context.Context, bid models.Bid) (models.Bid, error)
	ListBids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error)
	GetBid(ctx context.Context, bidId string) (models.Bid, error)
	BidHistory(ctx context.Context, bidId string) ([]models.BidTransition, error)
	SetBidStatus(ctx context.Context, bidId string, status models.BidStatus, change models.BidChange) (models.Bid, error)

	ListAllocations(ctx context.Context, filter models.AllocationFilter) ([]models.Allocation, error)
	GetAllocation(ctx context.Context, allocationId string) (models.Allocation, error)
	AnnotateAllocation(ctx context.Context, allocationId, notes string) (models.Allocation, error)
	ActOnAllocation(ctx context.Context, allocationId string, action models.AllocationAction, change models.BidChange) (*models.Allocation, error)
}

type Controller struct {
	service Service
	events  Subscriber
	log     logrus.FieldLogger
}

type Option func(*Controller)

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithEvents enables the event stream endpoint.
func WithEvents(s Subscriber) Option {
	return func(c *Controller) {
		c.events = s
	}
}

func NewController(service Service, opts ...Option) *Controller {
	c := &Controller{service: service}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// GET /api/ping
func (c *Controller) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// GET /api/departments
func (c *Controller) Departments(w http.ResponseWriter, r *http.Request) {
	c.marshalResponse(w, c.service.Departments())
}

//// Issues

// POST /api/issues
func (c *Controller) ReportIssue(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	req, err := ParseNewIssueReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	issue, err := c.service.ReportIssue(r.Context(), models.Issue{
		Type:        req.Type,
		Department:  models.Department(req.Department),
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		c.serviceErrorResponse(w, "ReportIssue", err)
		return
	}

	c.marshalResponse(w, issue)
}

// GET /api/issues
func (c *Controller) ListIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.IssueFilter{}

	if !c.pagination(w, query, &filter.Limit, &filter.Offset) {
		return
	}
	if !c.departmentQuery(w, query, &filter.Department) {
		return
	}

	if str := query.Get("status"); len(str) > 0 {
		status, ok := models.ParseIssueStatus(str)
		if !ok {
			c.errorResponse(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid issue status supplied: %s, should be one of: %s, %s", str, models.IssueOpen, models.IssueResolved))
			return
		}
		filter.Status = status
	}

	issues, err := c.service.ListIssues(r.Context(), filter)
	if err != nil {
		c.serviceErrorResponse(w, "ListIssues", err)
		return
	}

	c.marshalResponse(w, issues)
}

// GET /api/issues/{issueId}
func (c *Controller) GetIssue(w http.ResponseWriter, r *http.Request) {
	issueId, ok := c.pathUUID(w, r, "issueId")
	if !ok {
		return
	}

	issue, err := c.service.GetIssue(r.Context(), issueId)
	if err != nil {
		c.serviceErrorResponse(w, "GetIssue", err)
		return
	}

	c.marshalResponse(w, issue)
}

// PATCH /api/issues/{issueId}/resolve
func (c *Controller) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	issueId, ok := c.pathUUID(w, r, "issueId")
	if !ok {
		return
	}

	issue, err := c.service.ResolveIssue(r.Context(), issueId)
	if err != nil {
		c.serviceErrorResponse(w, "ResolveIssue", err)
		return
	}

	c.marshalResponse(w, issue)
}

// DELETE /api/issues/{issueId}
func (c *Controller) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	issueId, ok := c.pathUUID(w, r, "issueId")
	if !ok {
		return
	}

	err := c.service.DeleteIssue(r.Context(), issueId)
	if err != nil {
		c.serviceErrorResponse(w, "DeleteIssue", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

//// Tasks

// POST /api/tasks
func (c *Controller) PostTask(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	req, err := ParseNewTaskReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	task, err := c.service.PostTask(r.Context(), models.Task{
		Department:  models.Department(req.Department),
		Description: req.Description,
		Resources:   req.Resources,
		Timeline:    req.Timeline,
	})
	if err != nil {
		c.serviceErrorResponse(w, "PostTask", err)
		return
	}

	c.marshalResponse(w, task)
}

// GET /api/tasks
func (c *Controller) ListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.TaskFilter{}

	if !c.pagination(w, query, &filter.Limit, &filter.Offset) {
		return
	}
	if !c.departmentQuery(w, query, &filter.Department) {
		return
	}

	if str := query.Get("status"); len(str) > 0 {
		status, ok := models.ParseTaskStatus(str)
		if !ok {
			c.errorResponse(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid task status supplied: %s, should be one of: %s, %s, %s", str, models.TaskAvailable, models.TaskSuspended, models.TaskTerminated))
			return
		}
		filter.Status = status
	}

	tasks, err := c.service.ListTasks(r.Context(), filter)
	if err != nil {
		c.serviceErrorResponse(w, "ListTasks", err)
		return
	}

	c.marshalResponse(w, tasks)
}

// GET /api/tasks/{taskId}
func (c *Controller) GetTask(w http.ResponseWriter, r *http.Request) {
	taskId, ok := c.pathUUID(w, r, "taskId")
	if !ok {
		return
	}

	task, err := c.service.GetTask(r.Context(), taskId)
	if err != nil {
		c.serviceErrorResponse(w, "GetTask", err)
		return
	}

	c.marshalResponse(w, task)
}

// PATCH /api/tasks/{taskId}/status
func (c *Controller) SetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskId, ok := c.pathUUID(w, r, "taskId")
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	status, err := ParseTaskStatusReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	task, err := c.service.SetTaskStatus(r.Context(), taskId, status)
	if err != nil {
		c.serviceErrorResponse(w, "SetTaskStatus", err)
		return
	}

	c.marshalResponse(w, task)
}

//// Bids

// POST /api/bids
func (c *Controller) PlaceBid(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	req, err := ParseNewBidReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	bid, err := c.service.PlaceBid(r.Context(), models.Bid{
		TaskId:       req.TaskId,
		Department:   models.Department(req.Department),
		ProviderName: req.ProviderName,
		Amount:       req.Amount,
	})
	if err != nil {
		c.serviceErrorResponse(w, "PlaceBid", err)
		return
	}

	c.marshalResponse(w, bid)
}

// GET /api/bids
func (c *Controller) ListBids(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.BidFilter{ProviderName: query.Get("provider")}

	if !c.pagination(w, query, &filter.Limit, &filter.Offset) {
		return
	}
	if !c.departmentQuery(w, query, &filter.Department) {
		return
	}

	if str := query.Get("task_id"); len(str) > 0 {
		if _, err := uuid.Parse(str); err != nil {
			c.errorResponse(w, http.StatusBadRequest, "validation", "invalid value of 'task_id' query parameter: "+str)
			return
		}
		filter.TaskId = str
	}

	if str := query.Get("status"); len(str) > 0 {
		status, ok := models.ParseBidStatus(str)
		if !ok {
			c.errorResponse(w, http.StatusBadRequest, "validation", "invalid bid status supplied: "+str)
			return
		}
		filter.Status = status
	}

	bids, err := c.service.ListBids(r.Context(), filter)
	if err != nil {
		c.serviceErrorResponse(w, "ListBids", err)
		return
	}

	c.marshalResponse(w, bids)
}

// GET /api/bids/{bidId}
func (c *Controller) GetBid(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathUUID(w, r, "bidId")
	if !ok {
		return
	}

	bid, err := c.service.GetBid(r.Context(), bidId)
	if err != nil {
		c.serviceErrorResponse(w, "GetBid", err)
		return
	}

	c.marshalResponse(w, bid)
}

// GET /api/bids/{bidId}/history
func (c *Controller) BidHistory(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathUUID(w, r, "bidId")
	if !ok {
		return
	}

	history, err := c.service.BidHistory(r.Context(), bidId)
	if err != nil {
		c.serviceErrorResponse(w, "BidHistory", err)
		return
	}

	c.marshalResponse(w, history)
}

// PATCH /api/bids/{bidId}/status
func (c *Controller) SetBidStatus(w http.ResponseWriter, r *http.Request) {
	bidId, ok := c.pathUUID(w, r, "bidId")
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	req, err := ParseBidStatusReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	bid, err := c.service.SetBidStatus(r.Context(), bidId, req.Status, req.Change)
	if err != nil {
		c.serviceErrorResponse(w, "SetBidStatus", err)
		return
	}

	c.marshalResponse(w, bid)
}

//// Allocations

// GET /api/allocations
func (c *Controller) ListAllocations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.AllocationFilter{}

	if !c.pagination(w, query, &filter.Limit, &filter.Offset) {
		return
	}
	if !c.departmentQuery(w, query, &filter.Department) {
		return
	}

	view, ok := models.ParseAllocationView(query.Get("view"))
	if !ok {
		c.errorResponse(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid allocation view supplied: %s, should be one of: %s, %s, %s", query.Get("view"), models.AllocationsActive, models.AllocationsCompleted, models.AllocationsAll))
		return
	}
	filter.View = view

	allocations, err := c.service.ListAllocations(r.Context(), filter)
	if err != nil {
		c.serviceErrorResponse(w, "ListAllocations", err)
		return
	}

	c.marshalResponse(w, allocations)
}

// GET /api/allocations/{allocationId}
func (c *Controller) GetAllocation(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := c.pathUUID(w, r, "allocationId")
	if !ok {
		return
	}

	alloc, err := c.service.GetAllocation(r.Context(), allocationId)
	if err != nil {
		c.serviceErrorResponse(w, "GetAllocation", err)
		return
	}

	c.marshalResponse(w, alloc)
}

// PATCH /api/allocations/{allocationId}
func (c *Controller) AnnotateAllocation(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := c.pathUUID(w, r, "allocationId")
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	notes, err := ParseAllocationNotesReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	alloc, err := c.service.AnnotateAllocation(r.Context(), allocationId, notes)
	if err != nil {
		c.serviceErrorResponse(w, "AnnotateAllocation", err)
		return
	}

	c.marshalResponse(w, alloc)
}

// PATCH /api/allocations/{allocationId}/action
func (c *Controller) ActOnAllocation(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := c.pathUUID(w, r, "allocationId")
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not read request body")
		return
	}

	req, err := ParseAllocationActionReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	alloc, err := c.service.ActOnAllocation(r.Context(), allocationId, req.Action, req.Change)
	if err != nil {
		c.serviceErrorResponse(w, "ActOnAllocation", err)
		return
	}

	// terminated allocations are gone
	if alloc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	c.marshalResponse(w, alloc)
}

// Service

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (c *Controller) getQueryInt(query url.Values, key string) (int, error) {
	strs, ok := query[key]
	if ok && len(strs) > 0 {
		v, err := strconv.Atoi(strs[0])
		if err == nil && v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return v, err
	}
	return 0, nil
}

func (c *Controller) pagination(w http.ResponseWriter, query url.Values, limit, offset *int) bool {
	var err error

	*limit, err = c.getQueryInt(query, "limit")
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", "invalid value of 'limit' query parameter: "+query.Get("limit"))
		return false
	}

	*offset, err = c.getQueryInt(query, "offset")
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", "invalid value of 'offset' query parameter: "+query.Get("offset"))
		return false
	}
	return true
}

func (c *Controller) departmentQuery(w http.ResponseWriter, query url.Values, dept *models.Department) bool {
	str := query.Get("department")
	if len(str) == 0 {
		return true
	}

	parsed, err := c.service.ParseDepartment(str)
	if err != nil {
		c.serviceErrorResponse(w, "departmentQuery", err)
		return false
	}
	*dept = parsed
	return true
}

// pathUUID reads a path parameter that must be a UUID. Malformed ids are a
// client error, not a missing record.
func (c *Controller) pathUUID(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	str := chi.URLParam(r, key)
	if len(str) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "validation", "empty "+key+" supplied")
		return "", false
	}

	id, err := uuid.Parse(str)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid %s supplied: %s", key, str))
		return "", false
	}
	return id.String(), true
}

func (c *Controller) errorResponse(w http.ResponseWriter, status int, kind, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, err := json.Marshal(ErrorResponse{Error: text, Kind: kind})
	if err != nil {
		c.log.Errorf("controller.Controller.errorResponse: %s", err)
		return
	}

	_, err = w.Write(data)
	if err != nil {
		c.log.Errorf("controller.Controller.errorResponse: %s", err)
		return
	}
}

// serviceErrorResponse maps an error kind to a status code. Integrity errors
// also match ErrNotFound, so they are checked first.
func (c *Controller) serviceErrorResponse(w http.ResponseWriter, op string, err error) {
	log := c.log.WithField("operation", op)

	switch {
	case errors.Is(err, models.ErrIntegrity):
		log.Error(err)
		c.errorResponse(w, http.StatusInternalServerError, "integrity", message(err))
	case errors.Is(err, models.ErrValidation):
		c.errorResponse(w, http.StatusBadRequest, "validation", message(err))
	case errors.Is(err, models.ErrNotFound):
		c.errorResponse(w, http.StatusNotFound, "not_found", message(err))
	case errors.Is(err, models.ErrConflict):
		log.Debug(err)
		c.errorResponse(w, http.StatusConflict, "conflict", message(err))
	case errors.Is(err, models.ErrUnauthorized):
		c.errorResponse(w, http.StatusUnauthorized, "unauthorized", message(err))
	case errors.Is(err, models.ErrForbidden):
		log.Debug(err)
		c.errorResponse(w, http.StatusForbidden, "forbidden", message(err))
	default:
		log.Error(err)
		c.errorResponse(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// message returns the text of the domain error inside err, without the
// wrapping prefixes.
func message(err error) string {
	var e *models.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

func (c *Controller) marshalResponse(w http.ResponseWriter, data any) {
	d, err := json.Marshal(data)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "could not marshal response data")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(d)
	if err != nil {
		c.log.Errorf("controller.Controller.marshalResponse: %s", err)
		return
	}
}

func (c *Controller) readBody(src io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	src.Close()
	return data, nil
}
