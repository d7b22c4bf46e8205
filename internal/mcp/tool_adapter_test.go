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

package mcp_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/mcpchat/internal/mcp"
	mcptesting "github.com/tombee/mcpchat/internal/mcp/testing"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func discoverOne(t *testing.T, client mcp.Client) *mcp.ServerTool {
	t.Helper()
	tools, err := mcp.DiscoverTools(context.Background(), client, time.Minute, discardLogger())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	return tools[0]
}

func TestDiscoverTools_WrapsCatalog(t *testing.T) {
	client := mcptesting.NewMockClient("github", []mcp.ToolDefinition{
		{Name: "list_repos", Description: "List repositories", InputSchema: []byte(`{"type":"object"}`)},
		{Name: "create_issue", Description: "Create an issue", InputSchema: []byte(`{"type":"object"}`)},
	})

	tools, err := mcp.DiscoverTools(context.Background(), client, time.Minute, discardLogger())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	require.Equal(t, "list_repos", tools[0].Name())
	require.Equal(t, "List repositories", tools[0].Description())
	require.Equal(t, "github", tools[0].Server())
	require.Equal(t, "create_issue", tools[1].Name())
}

func TestDiscoverTools_EmptyCatalog(t *testing.T) {
	client := mcptesting.NewMockClient("bare", nil)

	tools, err := mcp.DiscoverTools(context.Background(), client, time.Minute, discardLogger())
	require.NoError(t, err)
	require.Empty(t, tools)
}

func TestDiscoverTools_PlaceholderName(t *testing.T) {
	client := mcptesting.NewMockClient("sloppy", []mcp.ToolDefinition{
		{Name: "", Description: "unnamed", InputSchema: []byte(`{"type":"object"}`)},
	})

	tool := discoverOne(t, client)
	require.Equal(t, "NO NAME", tool.Name())
}

func TestDiscoverTools_UnusableSchema(t *testing.T) {
	client := mcptesting.NewMockClient("broken", []mcp.ToolDefinition{
		{Name: "bad", InputSchema: []byte(`{"type": 42}`)},
	})

	_, err := mcp.DiscoverTools(context.Background(), client, time.Minute, discardLogger())
	require.Error(t, err)

	var schemaErr *mcp.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "broken", schemaErr.Server)
	require.Equal(t, "bad", schemaErr.Tool)
}

func TestServerTool_Invoke_ValidatesBeforeSend(t *testing.T) {
	client := mcptesting.NewMockClient("echo-server", []mcp.ToolDefinition{
		{Name: "echo", InputSchema: []byte(echoSchema)},
	})
	tool := discoverOne(t, client)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "missing required field", args: map[string]interface{}{}},
		{name: "wrong type", args: map[string]interface{}{"text": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Invoke(context.Background(), tt.args)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid arguments")
		})
	}

	// Nothing may have been written toward the subprocess.
	require.Zero(t, client.CallCount())
}

func TestServerTool_Invoke_EchoRoundTrip(t *testing.T) {
	client := mcptesting.NewMockClient("echo-server", []mcp.ToolDefinition{
		{Name: "echo", InputSchema: []byte(echoSchema)},
	})
	client.SetCallFunc(func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		text, _ := req.Arguments["text"].(string)
		return &mcp.ToolCallResponse{
			Content: []mcp.ContentItem{{Type: "text", Text: text}},
		}, nil
	})
	tool := discoverOne(t, client)

	content, err := tool.Invoke(context.Background(), map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, content, 1)
	require.Equal(t, "hi", content[0].Text)
}

func TestServerTool_Invoke_ToolError(t *testing.T) {
	errorContent := []mcp.ContentItem{
		{Type: "text", Text: "disk on fire"},
		{Type: "text", Text: "also out of coffee"},
	}
	client := mcptesting.NewMockClient("flaky", []mcp.ToolDefinition{
		{Name: "burn", InputSchema: []byte(`{"type":"object"}`)},
	})
	client.SetCallFunc(func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return &mcp.ToolCallResponse{Content: errorContent, IsError: true}, nil
	})
	tool := discoverOne(t, client)

	_, err := tool.Invoke(context.Background(), map[string]interface{}{})
	require.Error(t, err)

	var execErr *mcp.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, errorContent, execErr.Content, "error content must be carried verbatim")
	require.Equal(t, "flaky", execErr.Server)
	require.Equal(t, "burn", execErr.Tool)
	require.Contains(t, execErr.Error(), "disk on fire")
}

func TestServerTool_Invoke_TransportErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("pipe burst")
	client := mcptesting.NewMockClient("s", []mcp.ToolDefinition{
		{Name: "t", InputSchema: []byte(`{"type":"object"}`)},
	})
	client.SetCallFunc(func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return nil, sentinel
	})
	tool := discoverOne(t, client)

	_, err := tool.Invoke(context.Background(), map[string]interface{}{})
	require.ErrorIs(t, err, sentinel)
}

func TestServerTool_Invoke_AfterClose(t *testing.T) {
	client := mcptesting.NewMockClient("s", []mcp.ToolDefinition{
		{Name: "t", InputSchema: []byte(`{"type":"object"}`)},
	})
	tool := discoverOne(t, client)

	require.NoError(t, client.Close())

	_, err := tool.Invoke(context.Background(), map[string]interface{}{})
	require.True(t, mcp.IsSessionClosed(err), "invoke after close should fail with SessionClosedError, got %v", err)
}

func TestServerTool_Invoke_NilArguments(t *testing.T) {
	client := mcptesting.NewMockClient("s", []mcp.ToolDefinition{
		{Name: "t", InputSchema: []byte(`{"type":"object"}`)},
	})
	tool := discoverOne(t, client)

	_, err := tool.Invoke(context.Background(), nil)
	require.NoError(t, err)
}

func TestServerTool_MissingSchemaIsPermissive(t *testing.T) {
	client := mcptesting.NewMockClient("s", []mcp.ToolDefinition{
		{Name: "anything"},
	})
	tool := discoverOne(t, client)

	_, err := tool.Invoke(context.Background(), map[string]interface{}{"whatever": true})
	require.NoError(t, err)
}
