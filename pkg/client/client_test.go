package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"citydesk/internal/controller"
	"citydesk/internal/events"
	"citydesk/internal/logger"
	"citydesk/internal/models"
	"citydesk/internal/repository/memory"
	"citydesk/internal/router"
	"citydesk/internal/service"

	gofakeit "github.com/brianvoe/gofakeit/v6"
)

func NewTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := events.NewHub(8)
	s := service.NewService(memory.New(), nil, service.WithPublisher(hub), service.WithLogger(logger.Discard()))
	c := controller.NewController(s, controller.WithEvents(hub), controller.WithLogger(logger.Discard()))
	srv := httptest.NewServer(router.NewRouter(c, router.Config{Log: logger.Discard()}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLifecycle(t *testing.T) {
	srv := NewTestServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatal(err)
	}

	task, err := c.PostTask(ctx, models.Task{Department: models.DeptWater, Description: gofakeit.Sentence(4), Resources: "pump", Timeline: "1 week"})
	if err != nil {
		t.Fatal(err)
	}

	bid, err := c.PlaceBid(ctx, models.Bid{TaskId: task.Id, ProviderName: "Acme", Amount: 320.75})
	if err != nil {
		t.Fatal(err)
	}
	if bid.Amount != 320.75 {
		t.Errorf("unexpected amount %v", bid.Amount)
	}

	_, err = c.PlaceBid(ctx, models.Bid{TaskId: task.Id, ProviderName: "Acme", Amount: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict APIError, got %v", err)
	}
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("APIError should match models.ErrConflict")
	}

	if _, err = c.SetBidStatus(ctx, bid.Id, models.BidApproved, models.BidChange{}); err != nil {
		t.Fatal(err)
	}

	allocations, err := c.ListAllocations(ctx, models.DeptWater, models.AllocationsActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocations) != 1 {
		t.Fatalf("expected one allocation, got %d", len(allocations))
	}

	alloc, err := c.AnnotateAllocation(ctx, allocations[0].Id, "night shift")
	if err != nil {
		t.Fatal(err)
	}
	if alloc.Notes != "night shift" {
		t.Errorf("notes not stored: %+v", alloc)
	}

	done := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	completed, err := c.ActOnAllocation(ctx, alloc.Id, models.ActionComplete, models.BidChange{CompletedDate: &done})
	if err != nil {
		t.Fatal(err)
	}
	if completed == nil || completed.Status != models.BidCompleted {
		t.Errorf("unexpected allocation after complete: %+v", completed)
	}

	history, err := c.BidHistory(ctx, bid.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(history))
	}
}

func TestClientTerminate(t *testing.T) {
	srv := NewTestServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	task, err := c.PostTask(ctx, models.Task{Department: models.DeptSafety, Description: "fence", Resources: "steel", Timeline: "2 days"})
	if err != nil {
		t.Fatal(err)
	}
	bid, err := c.PlaceBid(ctx, models.Bid{TaskId: task.Id, ProviderName: gofakeit.Company(), Amount: 50})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.SetBidStatus(ctx, bid.Id, models.BidApproved, models.BidChange{}); err != nil {
		t.Fatal(err)
	}
	allocations, err := c.ListAllocations(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}

	removed, err := c.ActOnAllocation(ctx, allocations[0].Id, models.ActionTerminate, models.BidChange{Reason: "cancelled"})
	if err != nil {
		t.Fatal(err)
	}
	if removed != nil {
		t.Errorf("terminate should return no allocation, got %+v", removed)
	}

	_, err = c.ResolveIssue(ctx, "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestIssues(t *testing.T) {
	srv := NewTestServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	issue, err := c.ReportIssue(ctx, models.Issue{Department: models.DeptWaste, Description: "bin", Location: "Seeb"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.ResolveIssue(ctx, issue.Id); err != nil {
		t.Fatal(err)
	}

	resolved, err := c.ListIssues(ctx, models.DeptWaste, models.IssueResolved)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 {
		t.Errorf("expected one resolved issue, got %d", len(resolved))
	}

	if err = c.DeleteIssue(ctx, issue.Id); err != nil {
		t.Fatal(err)
	}

	_, err = c.ReportIssue(ctx, models.Issue{Department: "Parks", Description: "x", Location: "y"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

//// Poller

func TestPollerSnapshot(t *testing.T) {
	srv := NewTestServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	if _, err := c.PostTask(ctx, models.Task{Department: models.DeptEnergy, Description: "grid", Resources: "cables", Timeline: "1 month"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.PostTask(ctx, models.Task{Department: models.DeptWater, Description: "pipes", Resources: "pipes", Timeline: "1 month"}); err != nil {
		t.Fatal(err)
	}

	updates := make(chan Snapshot, 1)
	p := NewPoller(c, ForDepartment(models.DeptEnergy), WithInterval(20*time.Millisecond), WithLogger(logger.Discard()),
		OnUpdate(func(s Snapshot) {
			select {
			case updates <- s:
			default:
			}
		}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.Run(runCtx)

	select {
	case snap := <-updates:
		if len(snap.Tasks) != 1 || snap.Tasks[0].Department != models.DeptEnergy {
			t.Errorf("snapshot should only hold Energy tasks: %+v", snap.Tasks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller produced no snapshot")
	}

	if p.Snapshot().FetchedAt.IsZero() {
		t.Error("snapshot should be stored")
	}
}

func TestPollerKeepsSnapshotOnFailure(t *testing.T) {
	srv := NewTestServer(t)

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)

	var failing atomic.Bool
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		proxy.ServeHTTP(w, r)
	}))
	defer flaky.Close()

	ctx := context.Background()
	c := New(flaky.URL, "")
	if _, err := c.PostTask(ctx, models.Task{Department: models.DeptWaste, Description: "bins", Resources: "truck", Timeline: "1 week"}); err != nil {
		t.Fatal(err)
	}

	p := NewPoller(c, WithLogger(logger.Discard()))
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	before := p.Snapshot()

	failing.Store(true)
	if err := p.Refresh(ctx); err == nil {
		t.Fatal("refresh against a failing server should return the error")
	}

	after := p.Snapshot()
	if !after.FetchedAt.Equal(before.FetchedAt) || len(after.Tasks) != 1 {
		t.Errorf("failed refresh should keep the previous snapshot")
	}

	// Run swallows the failures and stops with the context
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	p.interval = 10 * time.Millisecond
	p.Run(runCtx)
}

func TestClientSharedAcrossGoroutines(t *testing.T) {
	srv := NewTestServer(t)
	c := New(srv.URL, "")
	if c.HTTPClient == nil || c.HTTPClient.Timeout != DefaultTimeout {
		t.Fatalf("New should configure the http client, got %+v", c.HTTPClient)
	}
	httpClient := c.HTTPClient

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Ping(context.Background()); err != nil {
				errs <- err
			}
			if _, err := c.ListTasks(context.Background(), "", ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if c.HTTPClient != httpClient {
		t.Error("requests should not replace the http client")
	}

	bare := &Client{BaseURL: srv.URL}
	if err := bare.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bare.HTTPClient != nil {
		t.Error("requests should not set the http client of a bare Client")
	}
}
