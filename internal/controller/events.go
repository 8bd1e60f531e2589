package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"citydesk/internal/events"
	"citydesk/internal/models"
)

type Subscriber interface {
	Subscribe(department models.Department) (<-chan events.Event, func())
}

const keepAliveInterval = 15 * time.Second

// GET /api/events
func (c *Controller) Events(w http.ResponseWriter, r *http.Request) {
	if c.events == nil {
		c.errorResponse(w, http.StatusNotFound, "not_found", "event stream is disabled")
		return
	}

	var dept models.Department
	if !c.departmentQuery(w, r.URL.Query(), &dept) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.errorResponse(w, http.StatusInternalServerError, "internal", "streaming is not supported")
		return
	}

	// the server write timeout would cut the stream
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		c.log.WithField("operation", "Events").Debugf("could not clear write deadline: %s", err)
	}

	ch, cancel := c.events.Subscribe(dept)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				c.log.WithField("operation", "Events").Error(err)
				continue
			}
			if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Entity, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
