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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/mcpchat/internal/config"
	"github.com/tombee/mcpchat/internal/log"
	"github.com/tombee/mcpchat/internal/mcp"
)

// newRootCommand creates the root Cobra command for mcpchat
func newRootCommand() *cobra.Command {
	var (
		configPath string
		verbose    bool
		skipFailed bool
	)

	cmd := &cobra.Command{
		Use:   "mcpchat",
		Short: "mcpchat - interactive MCP tool console",
		Long: `mcpchat spawns the MCP servers defined in a configuration file,
performs the protocol handshake with each one, and opens an interactive
console where the discovered tools can be listed and called.

Server processes are terminated when the console exits.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, verbose, skipFailed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "llm_mcp_config.json5", "Path to config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	cmd.Flags().BoolVar(&skipFailed, "skip-failed", false, "Start with the servers that work instead of failing on the first broken one")

	return cmd
}

// runChat wires configuration, logging, and the MCP bridge together and
// hands control to the console loop.
func runChat(cmd *cobra.Command, configPath string, verbose, skipFailed bool) error {
	logCfg := log.FromEnv()
	if verbose {
		logCfg.Level = "debug"
	}
	logger := log.New(logCfg)

	// One correlation id per console session ties every log line together.
	logger = log.WithCorrelationID(logger, uuid.NewString())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := mcp.ConvertOptions{
		Logger: log.WithComponent(logger, "mcp"),
	}
	if skipFailed {
		opts.Policy = mcp.SkipFailed
		opts.OnServerError = func(server string, err error) {
			fmt.Fprintln(cmd.OutOrStdout(), renderWarn(fmt.Sprintf("server %q skipped: %v", server, err)))
		}
	}

	tools, cleanup, err := mcp.Convert(ctx, cfg.MCPServers, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Warn("cleanup finished with errors", log.Error(err))
		}
	}()

	console := &console{
		tools:    tools,
		examples: cfg.ExampleQueries,
		in:       cmd.InOrStdin(),
		out:      cmd.OutOrStdout(),
		logger:   log.WithComponent(logger, "console"),
	}
	return console.run(ctx)
}
