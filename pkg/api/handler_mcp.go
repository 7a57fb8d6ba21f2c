package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strand-ai/strand/pkg/mcp"
	"github.com/strand-ai/strand/pkg/validate"
)

// MCPConnect handles GET /mcp/connect?clientId=<id>. It opens the
// downstream half of the split pipe: JSON-RPC requests for the client are
// streamed as SSE frames, and the client answers them on the message
// endpoint. A reconnect with the same clientId replaces the stream.
func (s *Server) MCPConnect(c *gin.Context) {
	clientID := c.Query("clientId")
	if err := validate.Identifier(clientID); err != nil {
		abortError(c, http.StatusBadRequest, "clientId: "+err.Error())
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abortError(c, http.StatusInternalServerError, "streaming not supported")
		return
	}

	frames, err := s.sessions.Connect(clientID)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	closed, _ := s.sessions.Closed(clientID)

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
			// Tear the session down only if a reconnect has not already
			// replaced it.
			select {
			case <-closed:
			default:
				s.sessions.Disconnect(clientID)
			}
			return
		case <-closed:
			// Replaced by a newer stream for the same client.
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case frame := <-frames:
			fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

// MCPMessage handles POST /mcp/message, the inbound half of the
// split pipe: clients post JSON-RPC responses here.
func (s *Server) MCPMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		abortError(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	resp, err := mcp.ParseResponse(body)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	s.sessions.HandleResponse(resp)
	c.Status(http.StatusNoContent)
}

// MCPStatus handles GET /mcp/status.
func (s *Server) MCPStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connectedClients": s.sessions.ConnectedCount(),
		"pendingRequests":  s.sessions.PendingCount(),
	})
}

// MCPClientStatus handles GET /mcp/clients/:id/status.
func (s *Server) MCPClientStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.sessions.StatusFor(id))
}

// MCPInvalidateCache handles POST /mcp/clients/:id/invalidate-cache.
// Drops the cached tool inventory so the next plan step re-lists tools.
func (s *Server) MCPInvalidateCache(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if s.mcpPool != nil {
		s.mcpPool.InvalidateCache("sse://" + id)
	}
	c.Status(http.StatusNoContent)
}
