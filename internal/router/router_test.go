package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"citydesk/internal/controller"
	"citydesk/internal/logger"
	"citydesk/internal/models"
	"citydesk/internal/repository/memory"
	"citydesk/internal/service"
)

func newTestRouter(origin string) http.Handler {
	s := service.NewService(memory.New(), models.NewDepartments(), service.WithLogger(logger.Discard()))
	c := controller.NewController(s, controller.WithLogger(logger.Discard()))
	return NewRouter(c, Config{CORSOrigin: origin, Log: logger.Discard()})
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter("https://portal.example")

	req := httptest.NewRequest(http.MethodOptions, "/api/bids", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight should return 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example" {
		t.Errorf("unexpected allowed origin %q", got)
	}
}

func TestRoutes(t *testing.T) {
	h := newTestRouter("")

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/ping", http.StatusOK},
		{http.MethodGet, "/api/departments", http.StatusOK},
		{http.MethodGet, "/api/issues", http.StatusOK},
		{http.MethodGet, "/api/tasks", http.StatusOK},
		{http.MethodGet, "/api/bids", http.StatusOK},
		{http.MethodGet, "/api/allocations", http.StatusOK},
		{http.MethodGet, "/api/tasks/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/api/nowhere", http.StatusNotFound},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.status, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s %s: missing CORS header", tt.method, tt.path)
		}
	}
}
