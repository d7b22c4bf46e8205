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
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport connected to a fake server loop.
type fakeTransport struct {
	toServer  chan []byte
	toClient  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		toServer: make(chan []byte, 16),
		toClient: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (t *fakeTransport) Send(msg []byte) error {
	select {
	case <-t.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case t.toServer <- append([]byte(nil), msg...):
		return nil
	case <-t.done:
		return io.ErrClosedPipe
	}
}

func (t *fakeTransport) Receive() ([]byte, error) {
	// Drain queued messages before reporting closure.
	select {
	case msg := <-t.toClient:
		return msg, nil
	default:
	}
	select {
	case msg := <-t.toClient:
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
	})
	return nil
}

func (t *fakeTransport) Closed() bool {
	return t.closed.Load()
}

// fakeServerOptions shapes the fake server's behavior.
type fakeServerOptions struct {
	// tools is the catalog reported by tools/list
	tools []ToolDefinition

	// failInitialize makes initialize return a JSON-RPC error
	failInitialize bool

	// closeOnInitialize drops the transport instead of answering
	closeOnInitialize bool

	// notifyAfterInit pushes one notification right after initialize
	notifyAfterInit string

	// silentCall makes tools/call never answer
	silentCall bool

	// onCall overrides the tools/call result
	onCall func(req ToolCallRequest) (interface{}, *ProtocolError)
}

// runFakeServer answers protocol requests on a fake transport until the
// transport closes.
func runFakeServer(t *fakeTransport, opts fakeServerOptions) {
	reply := func(id int64, result interface{}) {
		body, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  result,
		})
		select {
		case t.toClient <- body:
		case <-t.done:
		}
	}
	replyErr := func(id int64, code int, message string) {
		body, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"error":   map[string]interface{}{"code": code, "message": message},
		})
		select {
		case t.toClient <- body:
		case <-t.done:
		}
	}
	notify := func(method string) {
		body, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  method,
		})
		select {
		case t.toClient <- body:
		case <-t.done:
		}
	}

	go func() {
		for {
			var data []byte
			select {
			case data = <-t.toServer:
			case <-t.done:
				return
			}

			var msg struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			switch msg.Method {
			case methodInitialize:
				if opts.closeOnInitialize {
					_ = t.Close()
					return
				}
				if opts.failInitialize {
					replyErr(*msg.ID, ErrorCodeInternal, "initialize rejected")
					continue
				}
				reply(*msg.ID, map[string]interface{}{
					"protocolVersion": "2025-03-26",
					"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
					"serverInfo":      map[string]interface{}{"name": "fake-server", "version": "1.2.3"},
				})
				if opts.notifyAfterInit != "" {
					notify(opts.notifyAfterInit)
				}

			case methodInitialized:
				// notification, no reply

			case methodPing:
				reply(*msg.ID, map[string]interface{}{})

			case methodToolsList:
				tools := opts.tools
				if tools == nil {
					tools = []ToolDefinition{}
				}
				reply(*msg.ID, map[string]interface{}{"tools": tools})

			case methodToolsCall:
				if opts.silentCall {
					continue
				}
				var req ToolCallRequest
				_ = json.Unmarshal(msg.Params, &req)
				if opts.onCall != nil {
					result, perr := opts.onCall(req)
					if perr != nil {
						replyErr(*msg.ID, perr.Code, perr.Message)
					} else {
						reply(*msg.ID, result)
					}
					continue
				}
				// Default: echo the "text" argument back.
				text, _ := req.Arguments["text"].(string)
				reply(*msg.ID, map[string]interface{}{
					"content": []map[string]interface{}{
						{"type": "text", "text": text},
					},
				})
			}
		}
	}()
}

// newTestSession wires a session to a fake server and returns both ends.
func newTestSession(t *testing.T, opts fakeServerOptions) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	runFakeServer(ft, opts)
	session := NewSession("fake", ft, SessionOptions{Logger: testLogger()})
	t.Cleanup(func() { _ = session.Close() })
	return session, ft
}

func TestSession_InitializeTransitionsToReady(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{})

	if session.State() != StateHandshaking {
		t.Fatalf("State() = %v before Initialize, want %v", session.State(), StateHandshaking)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, session.Initialize(ctx))
	require.Equal(t, StateReady, session.State())
	require.Equal(t, "fake-server", session.ServerInfo().Name)
}

func TestSession_ListTools_PreservesServerOrder(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "zeta", Description: "last alphabetically, first reported", InputSchema: []byte(`{"type":"object"}`)},
		{Name: "alpha", InputSchema: []byte(`{"type":"object"}`)},
		{Name: "mid", InputSchema: []byte(`{"type":"object"}`)},
	}
	session, _ := newTestSession(t, fakeServerOptions{tools: tools})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))

	got, err := session.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []string{"zeta", "alpha", "mid"} {
		require.Equal(t, want, got[i].Name)
	}
}

func TestSession_CallTool(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))

	resp, err := session.CallTool(ctx, ToolCallRequest{
		Name:      "echo",
		Arguments: map[string]interface{}{"text": "hi"},
	})
	require.NoError(t, err)
	require.False(t, resp.IsError)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "hi", resp.Content[0].Text)
}

func TestSession_CallTool_ProtocolError(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{
		onCall: func(req ToolCallRequest) (interface{}, *ProtocolError) {
			return nil, &ProtocolError{Code: ErrorCodeInvalidParams, Message: "bad params"}
		},
	})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))

	_, err := session.CallTool(ctx, ToolCallRequest{Name: "echo"})
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ErrorCodeInvalidParams, perr.Code)
}

func TestSession_Initialize_ErrorResponse(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{failInitialize: true})

	err := session.Initialize(context.Background())
	require.Error(t, err)

	var herr *HandshakeError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, StateClosed, session.State())
}

func TestSession_Initialize_TransportClosed(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{closeOnInitialize: true})

	err := session.Initialize(context.Background())
	require.Error(t, err)

	var herr *HandshakeError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, StateClosed, session.State())
}

func TestSession_CloseResolvesPendingCalls(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{silentCall: true})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))

	errCh := make(chan error, 1)
	go func() {
		_, err := session.CallTool(ctx, ToolCallRequest{Name: "never-answers"})
		errCh <- err
	}()

	// Let the call reach the pending table before closing.
	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.pending) == 1
	}, time.Second, 5*time.Millisecond, "call should be pending")

	require.NoError(t, session.Close())

	select {
	case err := <-errCh:
		require.True(t, IsSessionClosed(err), "pending call should resolve with SessionClosedError, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was left hanging after Close")
	}
}

func TestSession_OperationsAfterClose(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))
	require.NoError(t, session.Close())

	_, err := session.ListTools(ctx)
	require.True(t, IsSessionClosed(err))

	_, err = session.CallTool(ctx, ToolCallRequest{Name: "echo"})
	require.True(t, IsSessionClosed(err))

	require.True(t, IsSessionClosed(session.Ping(ctx)))
}

func TestSession_CallBeforeReady(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{})

	_, err := session.ListTools(context.Background())
	require.Error(t, err)
	require.False(t, IsSessionClosed(err))
}

func TestSession_ContextCancellation(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{silentCall: true})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))

	callCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err := session.CallTool(callCtx, ToolCallRequest{Name: "never-answers"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned waiter must be deregistered.
	session.mu.Lock()
	pending := len(session.pending)
	session.mu.Unlock()
	require.Zero(t, pending)
}

func TestSession_NotificationsReachSink(t *testing.T) {
	ft := newFakeTransport()
	runFakeServer(ft, fakeServerOptions{notifyAfterInit: "notifications/tools/list_changed"})

	got := make(chan string, 1)
	session := NewSession("fake", ft, SessionOptions{
		Logger: testLogger(),
		OnNotification: func(method string, params json.RawMessage) {
			got <- method
		},
	})
	defer session.Close()

	require.NoError(t, session.Initialize(context.Background()))

	select {
	case method := <-got:
		require.Equal(t, "notifications/tools/list_changed", method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never reached the sink")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	session, ft := newTestSession(t, fakeServerOptions{})

	require.NoError(t, session.Initialize(context.Background()))
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	require.True(t, ft.Closed())
}

func TestSession_Ping(t *testing.T) {
	session, _ := newTestSession(t, fakeServerOptions{})

	ctx := context.Background()
	require.NoError(t, session.Initialize(ctx))
	require.NoError(t, session.Ping(ctx))
}

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateHandshaking, "handshaking"},
		{StateReady, "ready"},
		{StateClosed, "closed"},
		{SessionState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestIsSessionClosed(t *testing.T) {
	if !IsSessionClosed(&SessionClosedError{Server: "x"}) {
		t.Error("IsSessionClosed should match SessionClosedError")
	}
	wrapped := errorsJoin(&SessionClosedError{Server: "x"})
	if !IsSessionClosed(wrapped) {
		t.Error("IsSessionClosed should match wrapped SessionClosedError")
	}
	if IsSessionClosed(errors.New("other")) {
		t.Error("IsSessionClosed should not match unrelated errors")
	}
}

// errorsJoin wraps an error one level deep for unwrap checks.
func errorsJoin(err error) error {
	return &HandshakeError{Server: "x", Cause: err}
}
