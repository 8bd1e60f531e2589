package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"citydesk/internal/auth"
	"citydesk/internal/config"
	"citydesk/internal/models"

	gofakeit "github.com/brianvoe/gofakeit/v6"
)

const EmptyUUID = "00000000-0000-0000-0000-000000000000"

func TestAppStartup(t *testing.T) {
	app := StartupApp(t, "")
	StopApp(app)
}

func TestPing(t *testing.T) {
	app := StartupApp(t, "")
	defer StopApp(app)

	req, err := http.NewRequest("GET", fmt.Sprintf("http://%s/api/ping", app.cfg.ServerAddress), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/ping should return status code 200, got %d", resp.StatusCode)
	}
}

//// Issues

func TestIssues(t *testing.T) {
	app := StartupApp(t, "")
	defer StopApp(app)

	tester := func(body string, testName string, expectedStatus int) []byte {
		return ReqTest(t, app, "POST", "/api/issues", body, testName, expectedStatus)
	}

	template := `{"department": "%s", "description": "%s", "location": "%s"}`

	var issue models.Issue
	resp := tester(fmt.Sprintf(template, "Waste", "Overflowing bin", "Seeb"), "correct issue", http.StatusOK)
	if err := json.Unmarshal(resp, &issue); err != nil {
		t.Fatal(err)
	}
	if issue.Status != models.IssueOpen || issue.Department != models.DeptWaste {
		t.Errorf("unexpected issue: %+v", issue)
	}

	tester(fmt.Sprintf(template, "Parks", "x", "y"), "unknown department", http.StatusBadRequest)
	tester(fmt.Sprintf(template, "Waste", "", "y"), "empty description", http.StatusBadRequest)
	tester(`{"department": `, "malformed body", http.StatusBadRequest)

	for i := rand.Int() % 5; i > 0; i-- {
		tester(fmt.Sprintf(template, "Water", gofakeit.Word(), gofakeit.City()), "water issue", http.StatusOK)
	}

	var issues []models.Issue
	resp = ReqTest(t, app, "GET", "/api/issues?department=waste&status=open", "", "list waste issues", http.StatusOK)
	if err := json.Unmarshal(resp, &issues); err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].Id != issue.Id {
		t.Fatalf("expected only the waste issue, got %+v", issues)
	}
	ReqTest(t, app, "GET", "/api/issues?status=closed", "", "unknown status", http.StatusBadRequest)
	ReqTest(t, app, "GET", "/api/issues?limit=abc", "", "invalid limit", http.StatusBadRequest)

	resp = ReqTest(t, app, "PATCH", "/api/issues/"+issue.Id+"/resolve", "", "resolve", http.StatusOK)
	if err := json.Unmarshal(resp, &issue); err != nil {
		t.Fatal(err)
	}
	if issue.Status != models.IssueResolved {
		t.Errorf("expected resolved issue, got %s", issue.Status)
	}
	ReqTest(t, app, "PATCH", "/api/issues/"+issue.Id+"/resolve", "", "resolve again", http.StatusOK)
	ReqTest(t, app, "PATCH", "/api/issues/"+EmptyUUID+"/resolve", "", "resolve unknown", http.StatusNotFound)
	ReqTest(t, app, "PATCH", "/api/issues/42/resolve", "", "resolve malformed id", http.StatusBadRequest)

	ReqTest(t, app, "DELETE", "/api/issues/"+issue.Id, "", "delete", http.StatusNoContent)
	ReqTest(t, app, "DELETE", "/api/issues/"+issue.Id, "", "delete again", http.StatusNoContent)
	ReqTest(t, app, "GET", "/api/issues/"+issue.Id, "", "get deleted", http.StatusNotFound)
}

//// Tasks

func TestTasks(t *testing.T) {
	app := StartupApp(t, "")
	defer StopApp(app)

	task := AddRandomTask(t, app, "", models.DeptWater)

	ReqTest(t, app, "POST", "/api/tasks", `{"department": "Water", "description": "x", "resources": "", "timeline": "1 week"}`, "missing resources", http.StatusBadRequest)

	var tasks []models.Task
	resp := ReqTest(t, app, "GET", "/api/tasks?department=Water&status=active", "", "list tasks", http.StatusOK)
	if err := json.Unmarshal(resp, &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Id != task.Id {
		t.Fatalf("expected the posted task, got %+v", tasks)
	}

	tester := func(status, testName string, expectedStatus int) {
		ReqTest(t, app, "PATCH", "/api/tasks/"+task.Id+"/status", `{"status": "`+status+`"}`, testName, expectedStatus)
	}
	tester("suspended", "suspend", http.StatusOK)
	tester("available", "resume", http.StatusOK)
	tester("paused", "unknown status", http.StatusBadRequest)
	tester("terminated", "terminate", http.StatusOK)
	tester("available", "change terminated task", http.StatusConflict)

	ReqTest(t, app, "GET", "/api/tasks/"+EmptyUUID, "", "unknown task", http.StatusNotFound)
}

//// Bids and allocations

func TestBidLifecycle(t *testing.T) {
	app := StartupApp(t, "")
	defer StopApp(app)

	task := AddRandomTask(t, app, "", models.DeptWater)

	bidBody := `{"task_id": "%s", "provider_name": "%s", "bid_amount": %s}`
	ReqTest(t, app, "POST", "/api/bids", fmt.Sprintf(bidBody, task.Id, "Acme", `"abc"`), "non-numeric amount", http.StatusBadRequest)
	ReqTest(t, app, "POST", "/api/bids", fmt.Sprintf(bidBody, task.Id, "Acme", "-3"), "negative amount", http.StatusBadRequest)
	ReqTest(t, app, "POST", "/api/bids", fmt.Sprintf(bidBody, "nope", "Acme", "5"), "malformed task id", http.StatusBadRequest)

	var bid models.Bid
	resp := ReqTest(t, app, "POST", "/api/bids", fmt.Sprintf(bidBody, task.Id, "Acme", `"1500.50"`), "correct bid", http.StatusOK)
	if err := json.Unmarshal(resp, &bid); err != nil {
		t.Fatal(err)
	}
	if bid.Amount != 1500.5 || bid.Status != models.BidPending || bid.Department != models.DeptWater {
		t.Errorf("unexpected bid: %+v", bid)
	}
	ReqTest(t, app, "POST", "/api/bids", fmt.Sprintf(bidBody, task.Id, "Acme", "10"), "duplicate bid", http.StatusConflict)

	other := ReqTest(t, app, "POST", "/api/bids", fmt.Sprintf(bidBody, task.Id, "Beta", "1400"), "second provider", http.StatusOK)
	var otherBid models.Bid
	if err := json.Unmarshal(other, &otherBid); err != nil {
		t.Fatal(err)
	}

	status := func(bidId, body, testName string, expectedStatus int) []byte {
		return ReqTest(t, app, "PATCH", "/api/bids/"+bidId+"/status", body, testName, expectedStatus)
	}
	status(bid.Id, `{"status": "completed", "completed_date": "2024-06-30"}`, "complete pending bid", http.StatusConflict)
	status(bid.Id, `{"status": "approved"}`, "approve", http.StatusOK)
	status(bid.Id, `{"status": "approved"}`, "approve twice", http.StatusConflict)

	resp = ReqTest(t, app, "GET", "/api/bids/"+otherBid.Id, "", "other bid", http.StatusOK)
	if err := json.Unmarshal(resp, &otherBid); err != nil {
		t.Fatal(err)
	}
	if otherBid.Status != models.BidPending {
		t.Errorf("other bid should stay pending, got %s", otherBid.Status)
	}

	var allocations []models.Allocation
	resp = ReqTest(t, app, "GET", "/api/allocations?department=Water", "", "active allocations", http.StatusOK)
	if err := json.Unmarshal(resp, &allocations); err != nil {
		t.Fatal(err)
	}
	if len(allocations) != 1 || allocations[0].BidId != bid.Id || allocations[0].ProviderName != "Acme" {
		t.Fatalf("expected one allocation for the approved bid, got %+v", allocations)
	}
	allocId := allocations[0].Id

	var alloc models.Allocation
	resp = ReqTest(t, app, "PATCH", "/api/allocations/"+allocId, `{"notes": "two trucks"}`, "notes", http.StatusOK)
	if err := json.Unmarshal(resp, &alloc); err != nil {
		t.Fatal(err)
	}
	if alloc.Notes != "two trucks" {
		t.Errorf("notes not stored: %+v", alloc)
	}
	ReqTest(t, app, "PATCH", "/api/allocations/"+allocId, `{}`, "missing notes", http.StatusBadRequest)

	action := func(body, testName string, expectedStatus int) []byte {
		return ReqTest(t, app, "PATCH", "/api/allocations/"+allocId+"/action", body, testName, expectedStatus)
	}
	action(`{"action": "suspend"}`, "suspend without reason", http.StatusBadRequest)
	action(`{"action": "suspend", "reason": "storm"}`, "suspend", http.StatusOK)
	action(`{"action": "resume"}`, "resume", http.StatusOK)
	action(`{"action": "complete", "completed_date": "30/06/2024"}`, "malformed date", http.StatusBadRequest)
	resp = action(`{"action": "complete", "completed_date": "2024-06-30"}`, "complete", http.StatusOK)
	if err := json.Unmarshal(resp, &alloc); err != nil {
		t.Fatal(err)
	}
	if alloc.Status != models.BidCompleted || alloc.CompletedDate == nil {
		t.Errorf("unexpected completed allocation: %+v", alloc)
	}

	resp = ReqTest(t, app, "GET", "/api/allocations?view=completed", "", "completed allocations", http.StatusOK)
	if err := json.Unmarshal(resp, &allocations); err != nil {
		t.Fatal(err)
	}
	if len(allocations) != 1 {
		t.Errorf("expected one completed allocation, got %d", len(allocations))
	}
	ReqTest(t, app, "GET", "/api/allocations?view=archive", "", "unknown view", http.StatusBadRequest)

	var history []models.BidTransition
	resp = ReqTest(t, app, "GET", "/api/bids/"+bid.Id+"/history", "", "history", http.StatusOK)
	if err := json.Unmarshal(resp, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 5 {
		t.Errorf("expected 5 history entries, got %d", len(history))
	}
}

func TestTerminateAllocation(t *testing.T) {
	app := StartupApp(t, "")
	defer StopApp(app)

	task := AddRandomTask(t, app, "", models.DeptTransport)
	bid := AddRandomBid(t, app, "", task.Id, gofakeit.Company())
	ReqTest(t, app, "PATCH", "/api/bids/"+bid.Id+"/status", `{"status": "approved"}`, "approve", http.StatusOK)

	var allocations []models.Allocation
	resp := ReqTest(t, app, "GET", "/api/allocations", "", "allocations", http.StatusOK)
	if err := json.Unmarshal(resp, &allocations); err != nil {
		t.Fatal(err)
	}
	if len(allocations) != 1 {
		t.Fatalf("expected one allocation, got %d", len(allocations))
	}

	ReqTest(t, app, "PATCH", "/api/allocations/"+allocations[0].Id+"/action", `{"action": "terminate", "reason": "no show"}`, "terminate", http.StatusNoContent)
	ReqTest(t, app, "GET", "/api/allocations/"+allocations[0].Id, "", "terminated allocation", http.StatusNotFound)

	resp = ReqTest(t, app, "GET", "/api/bids/"+bid.Id, "", "terminated bid", http.StatusOK)
	if err := json.Unmarshal(resp, &bid); err != nil {
		t.Fatal(err)
	}
	if bid.Status != models.BidTerminated || bid.Reason != "no show" {
		t.Errorf("unexpected bid: %+v", bid)
	}
}

//// Auth

func TestAuth(t *testing.T) {
	const secret = "app-test-secret"
	app := StartupApp(t, secret)
	defer StopApp(app)

	signer := auth.New(secret, nil, nil)
	token := func(actor models.Actor) string {
		actor.Subject = gofakeit.UUID()
		tok, err := signer.Sign(actor, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	resident := token(models.Actor{Role: models.RoleResident})
	water := token(models.Actor{Role: models.RoleAuthority, Department: models.DeptWater})
	waste := token(models.Actor{Role: models.RoleAuthority, Department: models.DeptWaste})
	acme := token(models.Actor{Role: models.RoleProvider, Name: "Acme"})

	issue := `{"department": "Water", "description": "Leak", "location": "Muscat"}`
	ReqTestAs(t, app, "", "POST", "/api/issues", issue, "anonymous issue", http.StatusUnauthorized)
	ReqTestAs(t, app, "garbage", "POST", "/api/issues", issue, "invalid token", http.StatusUnauthorized)
	ReqTestAs(t, app, acme, "POST", "/api/issues", issue, "provider issue", http.StatusForbidden)
	ReqTestAs(t, app, resident, "POST", "/api/issues", issue, "resident issue", http.StatusOK)
	ReqTestAs(t, app, "", "GET", "/api/issues", "", "public read", http.StatusOK)

	ReqTestAs(t, app, waste, "POST", "/api/tasks", `{"department": "Water", "description": "x", "resources": "y", "timeline": "z"}`, "other department task", http.StatusForbidden)
	task := AddRandomTask(t, app, water, models.DeptWater)

	var bid models.Bid
	resp := ReqTestAs(t, app, acme, "POST", "/api/bids", `{"task_id": "`+task.Id+`", "bid_amount": 900}`, "provider bid", http.StatusOK)
	if err := json.Unmarshal(resp, &bid); err != nil {
		t.Fatal(err)
	}
	if bid.ProviderName != "Acme" {
		t.Errorf("provider name should come from the token, got %s", bid.ProviderName)
	}

	ReqTestAs(t, app, acme, "PATCH", "/api/bids/"+bid.Id+"/status", `{"status": "approved"}`, "provider approves", http.StatusForbidden)
	ReqTestAs(t, app, waste, "PATCH", "/api/bids/"+bid.Id+"/status", `{"status": "approved"}`, "other department approves", http.StatusForbidden)
	ReqTestAs(t, app, water, "PATCH", "/api/bids/"+bid.Id+"/status", `{"status": "approved"}`, "own department approves", http.StatusOK)
}

//// Events

func TestEventStream(t *testing.T) {
	app := StartupApp(t, "")
	defer StopApp(app)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/events?department=Energy", app.cfg.ServerAddress))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/events should return status code 200, got %d", resp.StatusCode)
	}

	received := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				received <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(received)
	}()

	// wait for the subscription to be registered
	for i := 0; i < 100 && app.hub.Subscribers() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}

	AddRandomTask(t, app, "", models.DeptWater)
	task := AddRandomTask(t, app, "", models.DeptEnergy)

	select {
	case data := <-received:
		var e struct {
			Entity     string `json:"entity"`
			Id         string `json:"id"`
			Department string `json:"department"`
		}
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			t.Fatal(err)
		}
		if e.Entity != "task" || e.Id != task.Id || e.Department != "Energy" {
			t.Errorf("unexpected event: %s", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

//// Service

func StartupApp(t *testing.T, jwtSecret string) *App {
	t.Helper()

	cfg, err := config.NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage = config.StorageMemory
	cfg.ServerAddress = FreeAddress(t)
	cfg.JWTSecret = jwtSecret
	cfg.LogLevel = "error"

	app, err := NewApp(WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	go app.Run()
	WaitForApp(t, app)
	return app
}

func StopApp(app *App) {
	app.Stop()
	<-app.Done
}

func FreeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().String()
}

func WaitForApp(t *testing.T, app *App) {
	for i := 0; i < 100; i++ {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/ping", app.cfg.ServerAddress))
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("app did not start")
}

func AddRandomTask(t *testing.T, app *App, token string, dept models.Department) models.Task {
	body := fmt.Sprintf(`{"department": "%s", "description": "%s", "resources": "%s", "timeline": "3 weeks"}`, dept, gofakeit.Word(), gofakeit.Word())
	resp := ReqTestAs(t, app, token, "POST", "/api/tasks", body, "add random task", http.StatusOK)

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		t.Fatal(err)
	}
	return task
}

func AddRandomBid(t *testing.T, app *App, token, taskId, provider string) models.Bid {
	body := fmt.Sprintf(`{"task_id": "%s", "provider_name": "%s", "bid_amount": %d}`, taskId, provider, gofakeit.Number(100, 10000))
	resp := ReqTestAs(t, app, token, "POST", "/api/bids", body, "add random bid", http.StatusOK)

	var bid models.Bid
	if err := json.Unmarshal(resp, &bid); err != nil {
		t.Fatal(err)
	}
	return bid
}

func ReqTest(t *testing.T, app *App, method, endpoint, body, testName string, expectedStatus int) []byte {
	return ReqTestAs(t, app, "", method, endpoint, body, testName, expectedStatus)
}

func ReqTestAs(t *testing.T, app *App, token, method, endpoint, body, testName string, expectedStatus int) []byte {
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", app.cfg.ServerAddress, endpoint), reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}

	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s '%s' test should return status code %d, got %d, body:\n%s", method, endpoint, testName, expectedStatus, resp.StatusCode, string(respBody))
	}
	return respBody
}
