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
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// defaultCallTimeout bounds tool calls for servers that do not configure
// their own timeout.
const defaultCallTimeout = 30 * time.Second

// CleanupFunc releases every resource acquired by a Convert call, closing
// sessions in strict reverse order of acquisition. It is idempotent: the
// second and later calls are no-ops.
type CleanupFunc func() error

// FailurePolicy decides what a single server's startup failure does to the
// whole Convert call.
type FailurePolicy int

const (
	// FailFast aborts the whole call on the first server failure. Resources
	// acquired by servers that did succeed are released before returning.
	FailFast FailurePolicy = iota

	// SkipFailed excludes failed servers from the registry. Every failure
	// is reported through OnServerError (or logged), never swallowed.
	SkipFailed
)

// ConvertOptions configures a Convert call.
type ConvertOptions struct {
	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// ClientInfo identifies this client during handshakes (optional)
	ClientInfo mcp.Implementation

	// Policy selects the failure policy (default FailFast)
	Policy FailurePolicy

	// OnServerError receives per-server startup failures under SkipFailed.
	// When nil, failures are logged at error level.
	OnServerError func(server string, err error)
}

// spawnServer is swappable so orchestrator tests can run against in-memory
// transports instead of real processes.
var spawnServer = func(config ServerConfig, logger *slog.Logger) (Transport, error) {
	return SpawnServer(config, logger)
}

// serverResult is one server's pipeline outcome.
type serverResult struct {
	tools []*ServerTool
	err   error
}

// ledger is the ordered record of sessions acquired during orchestration.
// Appends happen from concurrent per-server pipelines; the cleanup closure
// reads it only after every pipeline has finished.
type ledger struct {
	mu       sync.Mutex
	sessions []*Session
}

func (l *ledger) append(s *Session) {
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
}

// closeAll closes sessions last-acquired first and returns the first error.
func (l *ledger) closeAll() error {
	l.mu.Lock()
	sessions := l.sessions
	l.sessions = nil
	l.mu.Unlock()

	var firstErr error
	for i := len(sessions) - 1; i >= 0; i-- {
		if err := sessions[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Convert spawns every configured server, performs the protocol handshake,
// discovers each server's tools, and returns the flattened tool registry
// together with a cleanup function.
//
// The per-server pipelines run concurrently and independently; one server's
// failure neither blocks nor cancels its siblings. Convert returns only
// after every server has signalled readiness or terminal failure, so the
// caller never receives a registry while initialization is still in flight.
//
// The registry preserves configuration order across servers and each
// server's reported order within it. Under FailFast (the default) any
// pipeline failure fails the whole call after releasing the resources of
// the servers that did succeed; under SkipFailed the failed servers are
// excluded and reported via OnServerError.
func Convert(ctx context.Context, configs []ServerConfig, opts ConvertOptions) ([]*ServerTool, CleanupFunc, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	acquired := &ledger{}
	results := make([]serverResult, len(configs))

	var wg sync.WaitGroup
	for i, config := range configs {
		wg.Add(1)
		go func(i int, config ServerConfig) {
			defer wg.Done()
			tools, err := initServer(ctx, config, acquired, opts, logger)
			results[i] = serverResult{tools: tools, err: err}
		}(i, config)
	}

	// Rendezvous: one readiness (or terminal failure) signal per server.
	wg.Wait()

	var tools []*ServerTool
	for i, result := range results {
		if result.err != nil {
			if opts.Policy == SkipFailed {
				if opts.OnServerError != nil {
					opts.OnServerError(configs[i].Name, result.err)
				} else {
					logger.Error("mcp server excluded from registry",
						"server", configs[i].Name,
						"error", result.err,
					)
				}
				continue
			}
			// FailFast: release everything acquired so far; no process
			// outlives the failed call.
			_ = acquired.closeAll()
			return nil, nil, result.err
		}
		tools = append(tools, result.tools...)
	}

	var once sync.Once
	cleanup := func() error {
		var err error
		once.Do(func() {
			err = acquired.closeAll()
			logger.Info("mcp servers cleaned up")
		})
		return err
	}

	logger.Info("mcp servers initialized",
		"servers", len(configs),
		"tools", len(tools),
	)
	for _, tool := range tools {
		logger.Debug("mcp tool registered",
			"server", tool.Server(),
			"tool", tool.Name(),
		)
	}

	return tools, cleanup, nil
}

// initServer runs one server's pipeline: spawn, handshake, discovery.
// The session is recorded in the ledger as soon as it owns the spawned
// process, so a handshake failure still leaves the process reachable for
// teardown.
func initServer(ctx context.Context, config ServerConfig, acquired *ledger, opts ConvertOptions, logger *slog.Logger) ([]*ServerTool, error) {
	logger.Info("mcp server initializing",
		"server", config.Name,
		"command", config.Command,
		"args", config.Args,
	)

	transport, err := spawnServer(config, logger)
	if err != nil {
		return nil, err
	}

	session := NewSession(config.Name, transport, SessionOptions{
		Logger:     logger,
		ClientInfo: opts.ClientInfo,
	})
	acquired.append(session)

	if err := session.Initialize(ctx); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}

	return DiscoverTools(ctx, session, timeout, logger)
}
