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
	"encoding/json"
	"regexp"
	"time"
)

// ServerNameRegex validates MCP server names.
// Names must start with a letter and contain only letters, numbers, hyphens,
// and underscores. Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ServerConfig defines one MCP server to spawn and connect to.
type ServerConfig struct {
	// Name is the unique identifier for this server
	Name string `yaml:"-" json:"-"`

	// Command is the executable to run
	Command string `yaml:"command" json:"command"`

	// Args are the command-line arguments
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env are environment variables for the spawned process. The child
	// receives exactly these variables plus PATH inherited from the parent
	// when the map does not set it.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout bounds individual tool calls (defaults to 30s)
	Timeout time.Duration `yaml:"-" json:"-"`
}

// ToolDefinition represents an MCP tool definition.
// Maps to the MCP protocol's Tool schema.
type ToolDefinition struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallRequest represents a request to execute an MCP tool.
type ToolCallRequest struct {
	// Name is the tool to execute
	Name string `json:"name"`

	// Arguments contains the input parameters for the tool
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResponse represents the result of an MCP tool execution.
type ToolCallResponse struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates if the tool execution failed
	IsError bool `json:"isError,omitempty"`
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}

// ProtocolError represents a JSON-RPC error object returned by a server.
type ProtocolError struct {
	// Code is the JSON-RPC error code
	Code int `json:"code"`

	// Message describes the error
	Message string `json:"message"`

	// Data contains additional error details
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if len(e.Data) > 0 {
		return e.Message + " (data: " + string(e.Data) + ")"
	}
	return e.Message
}

// Common JSON-RPC error codes.
const (
	// ErrorCodeParse indicates a JSON parsing error
	ErrorCodeParse = -32700

	// ErrorCodeInvalidRequest indicates an invalid JSON-RPC request
	ErrorCodeInvalidRequest = -32600

	// ErrorCodeMethodNotFound indicates the method doesn't exist
	ErrorCodeMethodNotFound = -32601

	// ErrorCodeInvalidParams indicates invalid method parameters
	ErrorCodeInvalidParams = -32602

	// ErrorCodeInternal indicates an internal server error
	ErrorCodeInternal = -32603
)
