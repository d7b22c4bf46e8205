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

// Package mcp turns externally configured MCP server processes into a
// unified registry of callable tools.
//
// Each configured server is spawned as a child process and spoken to over
// its stdin/stdout pipes using JSON-RPC framing. A Session performs the
// MCP initialize handshake, after which the server's tool catalog is
// discovered and each tool is wrapped as a ServerTool adapter that
// validates arguments against the tool's input schema before forwarding
// the call.
//
// Convert is the entry point: it runs the spawn/handshake/discovery
// pipeline concurrently for every configured server, flattens the
// discovered tools into one registry in configuration order, and returns
// a single idempotent cleanup function that closes every session in
// reverse order of acquisition. No child process outlives the cleanup
// call.
//
// The package holds no global state; everything a caller needs lives in
// the values returned by Convert.
package mcp
