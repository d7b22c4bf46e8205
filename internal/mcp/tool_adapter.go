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
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// placeholderToolName is assigned to tools reported without a name so that
// discovery never fails on a single malformed catalog entry.
const placeholderToolName = "NO NAME"

// permissiveSchema is used when a tool reports no input schema at all.
const permissiveSchema = `{"type":"object"}`

// Client is the session surface tool adapters depend on.
// It enables dependency injection and testing with mock implementations.
type Client interface {
	// ListTools retrieves the list of available tools from the MCP server.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// CallTool executes an MCP tool with the given arguments.
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)

	// ServerName returns the unique identifier for this server.
	ServerName() string

	// Close closes the connection to the MCP server.
	Close() error
}

// ServerTool is a schema-validated, callable proxy for one tool exposed by
// one MCP server. A single generic adapter type serves every discovered
// tool; per-tool behavior is captured in the definition and the owning
// session reference.
//
// Two servers may expose tools with the same name; the registry does not
// deduplicate. Server returns the owning server's name for disambiguation.
type ServerTool struct {
	// serverName is the MCP server that provides this tool
	serverName string

	// def is the tool definition exactly as the server reported it
	def ToolDefinition

	// schema validates call arguments before they reach the server
	schema *jsonschema.Schema

	// client is the owning session
	client Client

	// timeout bounds a single invocation (0 means no bound)
	timeout time.Duration

	logger *slog.Logger
}

// newServerTool compiles the reported input schema into a validator and
// wraps the tool. An uncompilable schema is a SchemaError.
func newServerTool(def ToolDefinition, client Client, timeout time.Duration, logger *slog.Logger) (*ServerTool, error) {
	if def.Name == "" {
		def.Name = placeholderToolName
	}

	raw := string(def.InputSchema)
	if raw == "" || raw == "null" {
		raw = permissiveSchema
	}

	schema, err := jsonschema.CompileString(def.Name+"/inputSchema.json", raw)
	if err != nil {
		return nil, &SchemaError{Server: client.ServerName(), Tool: def.Name, Cause: err}
	}

	return &ServerTool{
		serverName: client.ServerName(),
		def:        def,
		schema:     schema,
		client:     client,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Name returns the tool name as the server reported it.
func (t *ServerTool) Name() string {
	return t.def.Name
}

// Description returns the tool description from the MCP definition.
func (t *ServerTool) Description() string {
	return t.def.Description
}

// Server returns the name of the server that provides this tool.
func (t *ServerTool) Server() string {
	return t.serverName
}

// InputSchema returns the tool's input schema as reported by the server.
func (t *ServerTool) InputSchema() json.RawMessage {
	return t.def.InputSchema
}

// Invoke validates the arguments against the tool's input schema, forwards
// the call to the owning session, and returns the response content.
//
// Arguments that violate the schema fail before anything is written to the
// subprocess. A response with isError set becomes a ToolExecutionError
// carrying the content verbatim; otherwise the content is returned
// unchanged. The adapter never retries.
func (t *ServerTool) Invoke(ctx context.Context, args map[string]interface{}) ([]ContentItem, error) {
	if err := t.validate(args); err != nil {
		return nil, err
	}

	t.logger.Debug("mcp tool invoked",
		"server", t.serverName,
		"tool", t.def.Name,
		"argument_count", len(args),
	)

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	resp, err := t.client.CallTool(ctx, ToolCallRequest{
		Name:      t.def.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	if resp.IsError {
		return nil, &ToolExecutionError{
			Server:  t.serverName,
			Tool:    t.def.Name,
			Content: resp.Content,
		}
	}

	t.logger.Debug("mcp tool returned",
		"server", t.serverName,
		"tool", t.def.Name,
		"content_items", len(resp.Content),
	)

	return resp.Content, nil
}

// validate checks the arguments against the compiled input schema.
func (t *ServerTool) validate(args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}

	// Round-trip through JSON so the validator sees the same value shapes
	// the server will (float64 numbers, no Go-specific types).
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("mcp tool %q/%q: arguments not serializable: %w", t.serverName, t.def.Name, err)
	}
	var normalized interface{}
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return fmt.Errorf("mcp tool %q/%q: arguments not serializable: %w", t.serverName, t.def.Name, err)
	}

	if err := t.schema.Validate(normalized); err != nil {
		return fmt.Errorf("mcp tool %q/%q: invalid arguments: %w", t.serverName, t.def.Name, err)
	}
	return nil
}

// DiscoverTools queries a ready session for its tool catalog and wraps each
// reported tool as a ServerTool, preserving the server's reported order.
// An empty catalog is valid and yields zero adapters.
func DiscoverTools(ctx context.Context, client Client, timeout time.Duration, logger *slog.Logger) ([]*ServerTool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]*ServerTool, 0, len(defs))
	for _, def := range defs {
		tool, err := newServerTool(def, client, timeout, logger)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}

	logger.Info("mcp server tools discovered",
		"server", client.ServerName(),
		"count", len(tools),
	)
	for _, tool := range tools {
		logger.Info("mcp tool available",
			"server", client.ServerName(),
			"tool", tool.Name(),
		)
	}

	return tools, nil
}
