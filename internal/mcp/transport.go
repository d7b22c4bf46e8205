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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// shutdownGrace is how long Close waits for a server process to exit after
// its stdin is closed before force-killing it.
const shutdownGrace = 5 * time.Second

// Transport is a bidirectional message channel to an MCP server.
// Messages are opaque JSON-RPC payloads; framing is the transport's concern.
type Transport interface {
	// Send writes one message to the server.
	Send(msg []byte) error

	// Receive blocks until the next message arrives. It returns an error
	// (io.EOF included) once the channel is closed or broken; after that
	// every call fails.
	Receive() ([]byte, error)

	// Close tears the channel down and releases everything it owns.
	// Safe to call more than once.
	Close() error
}

// StdioTransport is a Transport backed by a child process's stdin/stdout
// pipes, with one JSON-RPC message per newline-delimited line. It owns the
// process: closing the transport terminates the process.
type StdioTransport struct {
	// serverName identifies the server for logs and errors
	serverName string

	// cmd is the running server process
	cmd *exec.Cmd

	// stdin is the write side of the channel
	stdin io.WriteCloser

	// stdout is the read side of the channel
	stdout io.ReadCloser

	// reader buffers stdout line reads
	reader *bufio.Reader

	// writeMu serializes writes so concurrent requests cannot interleave
	writeMu sync.Mutex

	// closeOnce guards process teardown
	closeOnce sync.Once

	// closeErr is the result of teardown
	closeErr error

	logger *slog.Logger
}

// SpawnServer starts the configured server process and returns the stdio
// transport bound to it. The spawned process is owned by the returned
// transport and must be released with Close even if later setup steps fail.
func SpawnServer(config ServerConfig, logger *slog.Logger) (*StdioTransport, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if config.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(config.Command, config.Args...)
	cmd.Env = buildEnv(config.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Server: config.Name, Command: config.Command, Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Server: config.Name, Command: config.Command, Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Server: config.Name, Command: config.Command, Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Server: config.Name, Command: config.Command, Cause: err}
	}

	logger.Info("mcp server spawned",
		"server", config.Name,
		"command", config.Command,
		"pid", cmd.Process.Pid,
	)

	// Servers write diagnostics to stderr; surface them without letting
	// them interleave with the protocol stream.
	go forwardStderr(config.Name, stderr, logger)

	return &StdioTransport{
		serverName: config.Name,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		reader:     bufio.NewReader(stdout),
		logger:     logger,
	}, nil
}

// Send writes one newline-terminated message to the server's stdin.
func (t *StdioTransport) Send(msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(msg, '\n')); err != nil {
		return fmt.Errorf("write to mcp server %q: %w", t.serverName, err)
	}
	return nil
}

// Receive reads the next newline-delimited message from the server's stdout.
// Blank lines are skipped.
func (t *StdioTransport) Receive() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// Close shuts the server process down: stdin is closed to signal exit, and
// the process is force-killed if it has not exited within shutdownGrace.
// Subsequent calls are no-ops.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- t.cmd.Wait() }()

		select {
		case err := <-done:
			t.closeErr = ignoreExit(err)
		case <-time.After(shutdownGrace):
			t.logger.Warn("mcp server did not exit, killing",
				"server", t.serverName,
				"pid", t.cmd.Process.Pid,
			)
			_ = t.cmd.Process.Kill()
			t.closeErr = ignoreExit(<-done)
		}

		_ = t.stdout.Close()

		t.logger.Debug("mcp server terminated", "server", t.serverName)
	})
	return t.closeErr
}

// Pid returns the OS process id of the server.
func (t *StdioTransport) Pid() int {
	return t.cmd.Process.Pid
}

// buildEnv converts the configured env map into the process environment.
// The child receives exactly the configured variables; PATH is inherited
// from the parent when the config does not set it, because launchers like
// npx and uvx cannot resolve commands without it.
func buildEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	hasPath := false
	for k := range env {
		keys = append(keys, k)
		if k == "PATH" {
			hasPath = true
		}
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env)+1)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	if !hasPath {
		out = append(out, "PATH="+os.Getenv("PATH"))
	}
	return out
}

// forwardStderr drains a server's stderr into the log.
func forwardStderr(serverName string, stderr io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debug("mcp server stderr",
			"server", serverName,
			"line", scanner.Text(),
		)
	}
}

// ignoreExit drops expected process-exit errors so Close does not report a
// failure for a server that was deliberately terminated.
func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}
