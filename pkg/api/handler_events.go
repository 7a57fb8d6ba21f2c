package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strand-ai/strand/pkg/events"
	"github.com/strand-ai/strand/pkg/tenant"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// StreamExecutionEvents handles GET /api/v1/executions/:id/events. Events
// for the execution are streamed as SSE until the client disconnects.
func (s *Server) StreamExecutionEvents(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	// The execution must exist for the tenant before we hold a stream open.
	tenantID := tenant.MustFromContext(c.Request.Context())
	if _, err := s.executions.Get(c.Request.Context(), tenantID, id); err != nil {
		serviceError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abortError(c, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel := s.executions.Events().Subscribe(id)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSE(c, event)
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, event events.Event) {
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Name, event.Payload)
}
