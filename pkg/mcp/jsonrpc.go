// Package mcp implements the split-pipe MCP transport: server-to-client
// JSON-RPC requests flow over a persistent push stream per client, client
// responses arrive on a separate submission endpoint, correlated by
// request id. Outbound HTTP connections to regular MCP servers reuse the
// official SDK through the connection pool.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known JSON-RPC methods on the split-pipe channel.
const (
	MethodPing      = "ping"
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

var (
	// ErrTimeout is returned when a client does not answer a request
	// within the per-call timeout.
	ErrTimeout = errors.New("mcp request timed out")
	// ErrDisconnected is returned when the client's downstream stream
	// closed while requests were outstanding.
	ErrDisconnected = errors.New("mcp client disconnected")
	// ErrNotConnected is returned when no downstream stream exists for
	// the client id.
	ErrNotConnected = errors.New("mcp client not connected")
	// ErrMalformedFrame is returned for inbound bodies that are not
	// valid JSON-RPC 2.0 responses.
	ErrMalformedFrame = errors.New("malformed JSON-RPC frame")
)

// Request is an outbound JSON-RPC 2.0 frame. Notifications carry no id.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an inbound JSON-RPC 2.0 frame from a client. Exactly one of
// Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// ParseResponse validates and decodes an inbound response body.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if resp.JSONRPC != "2.0" {
		return nil, fmt.Errorf("%w: jsonrpc must be \"2.0\"", ErrMalformedFrame)
	}
	if resp.ID == nil {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedFrame)
	}
	return &resp, nil
}

// idKey normalizes a response id for pending-request lookup. Ids are
// generated as UUID strings but numeric echoes are tolerated.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
