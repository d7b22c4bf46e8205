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

// Package config loads and validates the mcpchat configuration file.
//
// The file may be YAML, JSON, or JSON5-style JSON with comments; comments
// are stripped before parsing, and JSON documents parse through the YAML
// decoder since every JSON document is valid YAML. The mcp_servers section
// is a mapping whose document order is preserved, because the registry the
// servers produce is ordered by configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/mcpchat/internal/mcp"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete mcpchat configuration.
type Config struct {
	// LLM configures the chat model the REPL talks to.
	LLM LLMConfig `yaml:"llm"`

	// ExampleQueries are suggestions the REPL prints at startup.
	ExampleQueries []string `yaml:"example_queries,omitempty"`

	// MCPServers lists the configured servers in document order.
	// Populated from the mcp_servers mapping; not unmarshalled directly.
	MCPServers []mcp.ServerConfig `yaml:"-"`
}

// LLMConfig configures the chat model.
type LLMConfig struct {
	// Provider is the model provider name (e.g. openai, anthropic).
	Provider string `yaml:"model_provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: derived from the provider (OPENAI_API_KEY, ANTHROPIC_API_KEY).
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Temperature is the sampling temperature passed to the provider.
	Temperature float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps the response length. 0 means provider default.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// rawConfig is the wire shape of the file. mcp_servers stays a yaml.Node so
// the mapping's key order survives decoding.
type rawConfig struct {
	LLM            LLMConfig `yaml:"llm"`
	ExampleQueries []string  `yaml:"example_queries"`
	MCPServers     yaml.Node `yaml:"mcp_servers"`
}

// serverEntry is the wire shape of one mcp_servers value.
type serverEntry struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. ext selects comment handling:
// .json and .json5 documents have // and /* */ comments stripped first.
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		data = stripComments(data)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	cfg := &Config{
		LLM:            raw.LLM,
		ExampleQueries: raw.ExampleQueries,
	}

	servers, err := decodeServers(&raw.MCPServers)
	if err != nil {
		return nil, err
	}
	cfg.MCPServers = servers

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeServers walks the mcp_servers mapping node in document order.
func decodeServers(node *yaml.Node) ([]mcp.ServerConfig, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: mcp_servers must be a mapping of server name to definition", ErrInvalidConfig)
	}

	// Mapping node content alternates key, value, key, value.
	servers := make([]mcp.ServerConfig, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]

		var entry serverEntry
		if err := valueNode.Decode(&entry); err != nil {
			return nil, fmt.Errorf("%w: mcp_servers[%q]: %v", ErrInvalidConfig, keyNode.Value, err)
		}

		servers = append(servers, mcp.ServerConfig{
			Name:    keyNode.Value,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			Timeout: entry.Timeout,
		})
	}
	return servers, nil
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.LLM.APIKeyEnv == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		case "anthropic":
			c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		case "groq":
			c.LLM.APIKeyEnv = "GROQ_API_KEY"
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if len(c.MCPServers) == 0 {
		errs = append(errs, "mcp_servers must define at least one server")
	}

	seen := make(map[string]bool, len(c.MCPServers))
	for _, server := range c.MCPServers {
		if !mcp.ServerNameRegex.MatchString(server.Name) {
			errs = append(errs, fmt.Sprintf("mcp_servers[%q]: name must match %s", server.Name, mcp.ServerNameRegex))
		}
		if seen[server.Name] {
			errs = append(errs, fmt.Sprintf("mcp_servers[%q]: duplicate server name", server.Name))
		}
		seen[server.Name] = true

		if server.Command == "" {
			errs = append(errs, fmt.Sprintf("mcp_servers[%q]: command is required", server.Name))
		}
		if server.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("mcp_servers[%q]: timeout must be non-negative, got %v", server.Name, server.Timeout))
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_tokens must be non-negative, got %d", c.LLM.MaxTokens))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// stripComments removes // line comments and /* */ block comments from a
// JSON5-style document while leaving string literals intact. Comment bytes
// are replaced with spaces (newlines preserved) so parse error positions
// still line up with the source file.
func stripComments(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)

	const (
		stateCode = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateCode
	escaped := false
	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch state {
		case stateCode:
			switch {
			case ch == '"':
				state = stateString
			case ch == '/' && i+1 < len(out) && out[i+1] == '/':
				state = stateLineComment
				out[i] = ' '
			case ch == '/' && i+1 < len(out) && out[i+1] == '*':
				state = stateBlockComment
				out[i] = ' '
			}

		case stateString:
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				state = stateCode
			}

		case stateLineComment:
			if ch == '\n' {
				state = stateCode
			} else {
				out[i] = ' '
			}

		case stateBlockComment:
			if ch == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i] = ' '
				out[i+1] = ' '
				i++
				state = stateCode
			} else if ch != '\n' {
				out[i] = ' '
			}
		}
	}
	return out
}
