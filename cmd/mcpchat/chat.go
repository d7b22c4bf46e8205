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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/mcpchat/internal/log"
	"github.com/tombee/mcpchat/internal/mcp"
)

// console is the interactive loop over a set of discovered tools.
// A command that fails reports its error and leaves the loop running;
// only EOF, quit, or an interrupt end the session.
type console struct {
	tools    []*mcp.ServerTool
	examples []string
	in       io.Reader
	out      io.Writer
	logger   *slog.Logger

	nextExample int
}

func (c *console) run(ctx context.Context) error {
	c.printBanner()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, stylePrompt.Render("mcpchat>")+" ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			c.printExampleHint()
		case line == "help":
			c.printHelp()
		case line == "tools":
			c.printTools()
		case line == "quit" || line == "q" || line == "exit":
			return nil
		case strings.HasPrefix(line, "call ") || line == "call":
			c.handleCall(ctx, line)
		default:
			fmt.Fprintln(c.out, renderError(fmt.Sprintf("unknown command %q, type 'help'", line)))
		}
	}
}

func (c *console) printBanner() {
	fmt.Fprintln(c.out, styleHeader.Render("mcpchat"))
	fmt.Fprintf(c.out, "%d tool(s) available from your MCP servers. Type 'help' for commands.\n", len(c.tools))
	if len(c.examples) > 0 {
		fmt.Fprintln(c.out, styleMuted.Render("Example queries:"))
		for _, q := range c.examples {
			fmt.Fprintln(c.out, styleMuted.Render("  - "+q))
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  tools              List discovered tools
  call <tool> [json] Call a tool with JSON arguments, e.g. call fetch {"url": "https://example.com"}
                     Use server/tool when two servers expose the same name
  help               Show this help
  quit               Exit (also: q, exit)`)
}

func (c *console) printExampleHint() {
	if len(c.examples) == 0 {
		return
	}
	hint := c.examples[c.nextExample%len(c.examples)]
	c.nextExample++
	fmt.Fprintln(c.out, styleMuted.Render("Try: "+hint))
}

func (c *console) printTools() {
	if len(c.tools) == 0 {
		fmt.Fprintln(c.out, "No tools discovered.")
		return
	}
	for _, tool := range c.tools {
		name := styleTool.Render(tool.Server() + "/" + tool.Name())
		if desc := strings.TrimSpace(tool.Description()); desc != "" {
			fmt.Fprintf(c.out, "  %s  %s\n", name, styleMuted.Render(desc))
		} else {
			fmt.Fprintf(c.out, "  %s\n", name)
		}
	}
}

// handleCall parses "call <tool> [json]" and invokes the tool.
func (c *console) handleCall(ctx context.Context, line string) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		fmt.Fprintln(c.out, renderError("usage: call <tool> [json arguments]"))
		return
	}
	name := parts[1]

	rawArgs := "{}"
	if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
		rawArgs = parts[2]
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		fmt.Fprintln(c.out, renderError(fmt.Sprintf("arguments must be a JSON object: %v", err)))
		return
	}

	tool, err := c.findTool(name)
	if err != nil {
		fmt.Fprintln(c.out, renderError(err.Error()))
		return
	}

	start := time.Now()
	content, err := tool.Invoke(ctx, args)
	c.logger.Debug("tool call finished",
		log.ServerKey, tool.Server(),
		log.ToolKey, tool.Name(),
		log.DurationKey, time.Since(start).Milliseconds(),
	)
	if err != nil {
		fmt.Fprintln(c.out, renderError(err.Error()))
		return
	}

	c.printContent(content)
}

// findTool resolves a tool by name or by server/name.
func (c *console) findTool(name string) (*mcp.ServerTool, error) {
	server := ""
	if ix := strings.IndexByte(name, '/'); ix >= 0 {
		server, name = name[:ix], name[ix+1:]
	}

	var matches []*mcp.ServerTool
	for _, tool := range c.tools {
		if tool.Name() != name {
			continue
		}
		if server != "" && tool.Server() != server {
			continue
		}
		matches = append(matches, tool)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no such tool %q, see 'tools'", name)
	case 1:
		return matches[0], nil
	default:
		var servers []string
		for _, tool := range matches {
			servers = append(servers, tool.Server()+"/"+tool.Name())
		}
		return nil, fmt.Errorf("tool %q is ambiguous, use one of: %s", name, strings.Join(servers, ", "))
	}
}

func (c *console) printContent(content []mcp.ContentItem) {
	if len(content) == 0 {
		fmt.Fprintln(c.out, styleMuted.Render("(empty response)"))
		return
	}
	for _, item := range content {
		switch item.Type {
		case "text", "":
			fmt.Fprintln(c.out, item.Text)
		default:
			// Binary content is summarized rather than dumped.
			fmt.Fprintln(c.out, styleMuted.Render(fmt.Sprintf("[%s %s, %d bytes]", item.Type, item.MimeType, len(item.Data))))
		}
	}
}
