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

// Package testing provides mock implementations of the mcp package's
// client surface for use in consumer tests.
package testing

import (
	"context"
	"sync"

	"github.com/tombee/mcpchat/internal/mcp"
)

// MockClient implements mcp.Client for testing.
type MockClient struct {
	serverName string
	tools      []mcp.ToolDefinition
	callFunc   func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)
	closed     bool
	callCount  int
	mu         sync.RWMutex
}

// NewMockClient creates a new mock MCP client.
func NewMockClient(serverName string, tools []mcp.ToolDefinition) *MockClient {
	return &MockClient{
		serverName: serverName,
		tools:      tools,
	}
}

// SetCallFunc installs a custom tool-call handler.
func (c *MockClient) SetCallFunc(fn func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callFunc = fn
}

// ListTools returns the configured list of tools.
func (c *MockClient) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Make a copy to prevent mutation
	toolsCopy := make([]mcp.ToolDefinition, len(c.tools))
	copy(toolsCopy, c.tools)
	return toolsCopy, nil
}

// CallTool executes a tool call using the configured handler. When the
// client has been closed it fails with SessionClosedError like a real
// session would.
func (c *MockClient) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	c.mu.Lock()
	closed := c.closed
	callFunc := c.callFunc
	if !closed {
		c.callCount++
	}
	c.mu.Unlock()

	if closed {
		return nil, &mcp.SessionClosedError{Server: c.serverName}
	}

	if callFunc != nil {
		return callFunc(ctx, req)
	}

	// Default behavior: echo back the request name
	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{
			{Type: "text", Text: req.Name},
		},
	}, nil
}

// ServerName returns the mock's server name.
func (c *MockClient) ServerName() string {
	return c.serverName
}

// Close marks the mock closed; later CallTool calls fail.
func (c *MockClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// CallCount reports how many tool calls reached the mock.
func (c *MockClient) CallCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callCount
}
