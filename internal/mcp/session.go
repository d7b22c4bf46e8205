// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCP method names used by the client side of the protocol.
const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodPing        = "ping"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
)

// jsonrpcVersion is the JSON-RPC protocol version tag on every message.
const jsonrpcVersion = "2.0"

// SessionState is the lifecycle state of a protocol session.
type SessionState int32

const (
	// StateUninitialized is the zero state before a session owns a transport.
	StateUninitialized SessionState = iota
	// StateHandshaking means the session owns a transport but the initialize
	// exchange has not completed.
	StateHandshaking
	// StateReady means the handshake completed and requests are permitted.
	StateReady
	// StateClosed is terminal; every operation fails with SessionClosedError.
	StateClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// rpcRequest is an outbound JSON-RPC request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcNotification is an outbound JSON-RPC notification (no id, no reply).
type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcMessage is any inbound JSON-RPC message. A message with an id and a
// result or error is a response; a message with a method is a notification.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ProtocolError  `json:"error,omitempty"`
}

// NotificationHandler receives server-initiated notifications.
// Handlers run on the session's read loop and must not block.
type NotificationHandler func(method string, params json.RawMessage)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// ClientInfo identifies this client during the handshake (optional)
	ClientInfo mcp.Implementation

	// OnNotification, when set, receives unmatched inbound messages.
	// When nil, notifications are logged at debug level and dropped.
	OnNotification NotificationHandler
}

// Session speaks the MCP request/response protocol over one Transport.
//
// A session owns its transport for life: constructing a session transfers
// ownership, and closing the session closes the transport (terminating the
// server process for stdio transports). The session holds no tool state;
// it is a request/response conduit with a pending-request table keyed by
// correlation id.
type Session struct {
	serverName string
	transport  Transport
	logger     *slog.Logger
	clientInfo mcp.Implementation
	onNotify   NotificationHandler

	// mu guards state, nextID, pending and closed so that registering a
	// waiter and observing closure cannot race.
	mu      sync.Mutex
	state   SessionState
	nextID  int64
	pending map[int64]chan *rpcMessage
	closed  bool

	// serverInfo and capabilities are populated by the handshake
	serverInfo   mcp.Implementation
	capabilities mcp.ServerCapabilities

	// readDone is closed when the read loop has exited and all pending
	// waiters have been resolved
	readDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewSession constructs a session over an owned transport and starts its
// read loop. The session enters the handshaking state immediately;
// Initialize must complete before ListTools or CallTool are permitted.
func NewSession(serverName string, transport Transport, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientInfo := opts.ClientInfo
	if clientInfo.Name == "" {
		clientInfo = mcp.Implementation{Name: "mcpchat", Version: "0.1.0"}
	}

	s := &Session{
		serverName: serverName,
		transport:  transport,
		logger:     logger,
		clientInfo: clientInfo,
		onNotify:   opts.OnNotification,
		state:      StateHandshaking,
		pending:    make(map[int64]chan *rpcMessage),
		readDone:   make(chan struct{}),
	}

	go s.readLoop()

	return s
}

// Initialize performs the MCP handshake: the initialize request/response
// exchange followed by the initialized notification. On success the session
// transitions to ready; on any failure it is closed and a HandshakeError is
// returned.
func (s *Session) Initialize(ctx context.Context) error {
	if s.State() != StateHandshaking {
		return &HandshakeError{
			Server: s.serverName,
			Cause:  fmt.Errorf("initialize called in state %q", s.State()),
		}
	}

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      s.clientInfo,
	}

	var result mcp.InitializeResult
	if err := s.call(ctx, methodInitialize, params, &result); err != nil {
		_ = s.Close()
		return &HandshakeError{Server: s.serverName, Cause: err}
	}

	if err := s.notify(methodInitialized, nil); err != nil {
		_ = s.Close()
		return &HandshakeError{Server: s.serverName, Cause: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &HandshakeError{
			Server: s.serverName,
			Cause:  &SessionClosedError{Server: s.serverName},
		}
	}
	s.state = StateReady
	s.serverInfo = result.ServerInfo
	s.capabilities = result.Capabilities
	s.mu.Unlock()

	s.logger.Info("mcp server connected",
		"server", s.serverName,
		"server_info", result.ServerInfo.Name,
		"protocol_version", result.ProtocolVersion,
	)

	return nil
}

// ListTools retrieves the server's tool catalog in the server's own order.
func (s *Session) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	var result struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := s.call(ctx, methodToolsList, struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool executes one tool call and returns the server's response.
// An isError response is returned as a normal ToolCallResponse; mapping it
// to an error is the adapter's contract, not the session's.
func (s *Session) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	var result ToolCallResponse
	if err := s.call(ctx, methodToolsCall, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks that the server is still responsive.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	var result json.RawMessage
	return s.call(ctx, methodPing, struct{}{}, &result)
}

// ServerName returns the configured server name.
func (s *Session) ServerName() string {
	return s.serverName
}

// ServerInfo returns the implementation info the server reported during the
// handshake.
func (s *Session) ServerInfo() mcp.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// Capabilities returns the capabilities the server reported during the
// handshake.
func (s *Session) Capabilities() mcp.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close transitions the session to closed, tears down the transport, and
// resolves every pending request with SessionClosedError. Safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.fail()
		s.closeErr = s.transport.Close()
		<-s.readDone
		s.logger.Info("mcp server session closed", "server", s.serverName)
	})
	return s.closeErr
}

// requireReady fails fast when the session cannot accept requests.
func (s *Session) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return &SessionClosedError{Server: s.serverName}
	default:
		return fmt.Errorf("mcp server %q: session not ready (state %q)", s.serverName, s.state)
	}
}

// call sends one request and blocks until its correlated response arrives,
// the context is done, or the session closes.
func (s *Session) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &SessionClosedError{Server: s.serverName}
	}
	s.nextID++
	id := s.nextID
	ch := make(chan *rpcMessage, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		s.removePending(id)
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	if err := s.transport.Send(payload); err != nil {
		s.removePending(id)
		return err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return &SessionClosedError{Server: s.serverName}
		}
		if msg.Error != nil {
			return fmt.Errorf("mcp server %q: %s failed: %w", s.serverName, method, msg.Error)
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil

	case <-ctx.Done():
		s.removePending(id)
		return ctx.Err()
	}
}

// notify sends one fire-and-forget notification.
func (s *Session) notify(method string, params interface{}) error {
	payload, err := json.Marshal(rpcNotification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return s.transport.Send(payload)
}

// readLoop routes inbound messages to their waiters until the transport
// errors or closes, then resolves every remaining waiter.
func (s *Session) readLoop() {
	defer close(s.readDone)

	for {
		data, err := s.transport.Receive()
		if err != nil {
			s.fail()
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("mcp server sent malformed message",
				"server", s.serverName,
				"error", err,
			)
			continue
		}

		// Responses carry the correlation id of the request they answer.
		if msg.ID != nil && (msg.Result != nil || msg.Error != nil) {
			s.dispatch(&msg)
			continue
		}

		// Anything else is a server-initiated notification.
		if s.onNotify != nil {
			s.onNotify(msg.Method, msg.Params)
		} else {
			s.logger.Debug("mcp server notification",
				"server", s.serverName,
				"method", msg.Method,
			)
		}
	}
}

// dispatch hands a response to the waiter registered under its id.
func (s *Session) dispatch(msg *rpcMessage) {
	s.mu.Lock()
	ch, ok := s.pending[*msg.ID]
	if ok {
		delete(s.pending, *msg.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("mcp server response with no waiter",
			"server", s.serverName,
			"id", *msg.ID,
		)
		return
	}
	ch <- msg
}

// removePending unregisters a waiter that gave up (context cancellation or
// send failure).
func (s *Session) removePending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// fail moves the session to closed and wakes every pending waiter. Waiters
// see their channel closed and surface SessionClosedError.
func (s *Session) fail() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()
}
