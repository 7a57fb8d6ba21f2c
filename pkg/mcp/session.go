package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds how long a split-pipe request waits for
// the client's answer when the caller does not supply a tighter one.
const DefaultRequestTimeout = 30 * time.Second

// streamBuffer is the per-client frame channel capacity. Slow consumers
// past this point are disconnected rather than blocking callers.
const streamBuffer = 32

// session is one client's downstream push stream.
type session struct {
	clientID    string
	frames      chan []byte
	closed      chan struct{}
	connectedAt time.Time
}

// pendingRequest is an outstanding server-to-client request awaiting its
// correlated response.
type pendingRequest struct {
	clientID string
	done     chan struct{}
	result   json.RawMessage
	err      error
}

// SessionManager owns the split-pipe sessions: one downstream frame
// stream per client id, plus the pending-request table that correlates
// inbound responses back to their callers.
type SessionManager struct {
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]*pendingRequest

	// onDisconnect hooks run after a client's stream is torn down.
	onDisconnect []func(clientID string)
}

func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		logger:   logger,
		timeout:  DefaultRequestTimeout,
		sessions: make(map[string]*session),
		pending:  make(map[string]*pendingRequest),
	}
}

// OnDisconnect registers a hook invoked whenever a client stream ends.
func (m *SessionManager) OnDisconnect(fn func(clientID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Connect opens a downstream stream for the client and returns the frame
// channel to push to the wire. A prior stream for the same id is closed
// and replaced; its pending requests stay outstanding so responses
// submitted over the new stream's sibling endpoint still land.
func (m *SessionManager) Connect(clientID string) (<-chan []byte, error) {
	ping, err := json.Marshal(Request{JSONRPC: "2.0", Method: MethodPing})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ping frame: %w", err)
	}

	m.mu.Lock()
	if prior, ok := m.sessions[clientID]; ok {
		close(prior.closed)
		m.logger.Info("Replacing MCP client stream", "client_id", clientID)
	}
	s := &session{
		clientID:    clientID,
		frames:      make(chan []byte, streamBuffer),
		closed:      make(chan struct{}),
		connectedAt: time.Now(),
	}
	m.sessions[clientID] = s
	m.mu.Unlock()

	// First frame lets the client confirm the channel is live.
	s.frames <- ping

	m.logger.Info("MCP client connected", "client_id", clientID)
	return s.frames, nil
}

// Closed reports the stream-teardown channel for the client's current
// session, used by the HTTP layer to end its push loop.
func (m *SessionManager) Closed(clientID string) (<-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, false
	}
	return s.closed, true
}

// SendRequest pushes a JSON-RPC request down the client's stream and
// blocks until the correlated response arrives, the timeout fires, the
// context ends, or the client disconnects.
func (m *SessionManager) SendRequest(ctx context.Context, clientID, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	frame, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	pending := &pendingRequest{clientID: clientID, done: make(chan struct{})}

	m.mu.Lock()
	s, ok := m.sessions[clientID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNotConnected)
	}
	m.pending[id] = pending
	m.mu.Unlock()

	select {
	case s.frames <- frame:
	default:
		m.removePending(id)
		m.disconnect(clientID, s)
		return nil, fmt.Errorf("client %s stream is full: %w", clientID, ErrDisconnected)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-pending.done:
		return pending.result, pending.err
	case <-timer.C:
		m.removePending(id)
		return nil, fmt.Errorf("request %s to client %s: %w", method, clientID, ErrTimeout)
	case <-ctx.Done():
		m.removePending(id)
		return nil, ctx.Err()
	case <-s.closed:
		m.removePending(id)
		return nil, fmt.Errorf("client %s: %w", clientID, ErrDisconnected)
	}
}

// SendNotification pushes a fire-and-forget frame with no id. No
// response is expected.
func (m *SessionManager) SendNotification(clientID, method string, params any) error {
	frame, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	m.mu.Lock()
	s, ok := m.sessions[clientID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %s: %w", clientID, ErrNotConnected)
	}

	select {
	case s.frames <- frame:
		return nil
	default:
		m.disconnect(clientID, s)
		return fmt.Errorf("client %s stream is full: %w", clientID, ErrDisconnected)
	}
}

// HandleResponse correlates an inbound response to its pending request
// and completes the caller's future. Responses for unknown ids are
// logged and dropped, not errors: the request may have timed out first.
func (m *SessionManager) HandleResponse(resp *Response) {
	key := idKey(resp.ID)

	m.mu.Lock()
	pending, ok := m.pending[key]
	if ok {
		delete(m.pending, key)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("Dropping MCP response with no pending request", "request_id", key)
		return
	}

	if resp.Error != nil {
		pending.err = resp.Error
	} else {
		pending.result = resp.Result
	}
	close(pending.done)
}

// Disconnect tears down the client's current stream and fails every
// pending request attributed to the client.
func (m *SessionManager) Disconnect(clientID string) {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.disconnect(clientID, s)
}

// disconnect removes the session only if it is still the client's
// current one, so a replaced stream cannot tear down its successor.
func (m *SessionManager) disconnect(clientID string, s *session) {
	var failed []*pendingRequest
	var hooks []func(string)

	m.mu.Lock()
	if current, ok := m.sessions[clientID]; ok && current == s {
		delete(m.sessions, clientID)
		select {
		case <-s.closed:
		default:
			close(s.closed)
		}
		for id, pending := range m.pending {
			if pending.clientID == clientID {
				delete(m.pending, id)
				failed = append(failed, pending)
			}
		}
		hooks = append(hooks, m.onDisconnect...)
	}
	m.mu.Unlock()

	for _, pending := range failed {
		pending.err = fmt.Errorf("client %s: %w", clientID, ErrDisconnected)
		close(pending.done)
	}
	for _, fn := range hooks {
		fn(clientID)
	}
	if len(failed) > 0 || len(hooks) > 0 {
		m.logger.Info("MCP client disconnected", "client_id", clientID, "failed_requests", len(failed))
	}
}

func (m *SessionManager) removePending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// IsConnected reports whether the client currently has a live stream.
func (m *SessionManager) IsConnected(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[clientID]
	return ok
}

// ConnectedCount reports how many clients currently hold a live stream.
func (m *SessionManager) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ClientStatus describes one connected client.
type ClientStatus struct {
	ClientID            string `json:"clientId"`
	Connected           bool   `json:"connected"`
	ConnectedDurationMs int64  `json:"connectedDurationMs,omitempty"`
	PendingRequests     int    `json:"pendingRequests"`
}

// Status returns a snapshot of every connected client.
func (m *SessionManager) Status() []ClientStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	pendingByClient := make(map[string]int)
	for _, pending := range m.pending {
		pendingByClient[pending.clientID]++
	}

	statuses := make([]ClientStatus, 0, len(m.sessions))
	for clientID, s := range m.sessions {
		statuses = append(statuses, ClientStatus{
			ClientID:            clientID,
			Connected:           true,
			ConnectedDurationMs: time.Since(s.connectedAt).Milliseconds(),
			PendingRequests:     pendingByClient[clientID],
		})
	}
	return statuses
}

// StatusFor returns the status of a single client id, connected or not.
func (m *SessionManager) StatusFor(clientID string) ClientStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ClientStatus{ClientID: clientID}
	s, ok := m.sessions[clientID]
	if !ok {
		return status
	}
	status.Connected = true
	status.ConnectedDurationMs = time.Since(s.connectedAt).Milliseconds()
	for _, pending := range m.pending {
		if pending.clientID == clientID {
			status.PendingRequests++
		}
	}
	return status
}

// PendingCount reports the total outstanding request count, all clients.
func (m *SessionManager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// SetRequestTimeout overrides the per-request timeout. Zero restores the
// default.
func (m *SessionManager) SetRequestTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	m.timeout = d
}
