package router

import (
	"net/http"
	"time"

	"citydesk/internal/controller"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Config struct {
	CORSOrigin string
	Auth       func(http.Handler) http.Handler
	Log        logrus.FieldLogger
}

func NewRouter(c *controller.Controller, cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if len(cfg.CORSOrigin) == 0 {
		cfg.CORSOrigin = "*"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.CORSOrigin))
	if cfg.Auth != nil {
		r.Use(cfg.Auth)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", c.Ping)
		r.Get("/departments", c.Departments)
		r.Get("/events", c.Events)

		r.Route("/issues", func(r chi.Router) {
			r.Post("/", c.ReportIssue)
			r.Get("/", c.ListIssues)
			r.Get("/{issueId}", c.GetIssue)
			r.Delete("/{issueId}", c.DeleteIssue)
			r.Patch("/{issueId}/resolve", c.ResolveIssue)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", c.PostTask)
			r.Get("/", c.ListTasks)
			r.Get("/{taskId}", c.GetTask)
			r.Patch("/{taskId}/status", c.SetTaskStatus)
		})

		r.Route("/bids", func(r chi.Router) {
			r.Post("/", c.PlaceBid)
			r.Get("/", c.ListBids)
			r.Get("/{bidId}", c.GetBid)
			r.Get("/{bidId}/history", c.BidHistory)
			r.Patch("/{bidId}/status", c.SetBidStatus)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Get("/", c.ListAllocations)
			r.Get("/{allocationId}", c.GetAllocation)
			r.Patch("/{allocationId}", c.AnnotateAllocation)
			r.Patch("/{allocationId}/action", c.ActOnAllocation)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("page not found"))
	})

	return r
}

// cors answers preflight requests itself, before authentication runs.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Accept", "*/*")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
			}).Debug("request served")
		})
	}
}
