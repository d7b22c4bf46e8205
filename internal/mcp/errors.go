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
	"errors"
	"fmt"
	"strings"
)

// SpawnError indicates that a server process could not be started.
type SpawnError struct {
	// Server is the configured server name
	Server string
	// Command is the executable that failed to start
	Command string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("mcp server %q: failed to spawn %q: %v", e.Server, e.Command, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Cause
}

// HandshakeError indicates that the initialize exchange failed or the
// transport closed before the session reached the ready state.
type HandshakeError struct {
	// Server is the configured server name
	Server string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("mcp server %q: handshake failed: %v", e.Server, e.Cause)
}

// Unwrap returns the underlying error.
func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// SessionClosedError indicates an operation was attempted on, or was still
// pending when, a session that reached the closed state. Pending waiters
// are resolved with this error rather than left blocked.
type SessionClosedError struct {
	// Server is the configured server name
	Server string
}

// Error implements the error interface.
func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("mcp server %q: session is closed", e.Server)
}

// ToolExecutionError indicates a tool reported an application-level error
// (isError=true) for one specific call. The response content is carried
// verbatim so the caller sees the tool's own failure output.
type ToolExecutionError struct {
	// Server is the server that owns the tool
	Server string
	// Tool is the tool name
	Tool string
	// Content is the error content exactly as the tool reported it
	Content []ContentItem
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mcp tool %q/%q failed", e.Server, e.Tool)
	msg := textContent(e.Content)
	if msg != "" {
		sb.WriteString(": ")
		sb.WriteString(msg)
	}
	return sb.String()
}

// SchemaError indicates a tool-reported input schema could not be turned
// into a usable validator.
type SchemaError struct {
	// Server is the server that reported the schema
	Server string
	// Tool is the tool the schema belongs to
	Tool string
	// Cause is the underlying compile error
	Cause error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("mcp tool %q/%q: unusable input schema: %v", e.Server, e.Tool, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// IsSessionClosed reports whether err is (or wraps) a SessionClosedError.
func IsSessionClosed(err error) bool {
	var closed *SessionClosedError
	return errors.As(err, &closed)
}

// textContent joins the text parts of a content list with "; ".
func textContent(content []ContentItem) string {
	var parts []string
	for _, item := range content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "; ")
}
