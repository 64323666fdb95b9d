package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Config is the MCP server file: {"servers": {"name": {...}}}.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// ServerConfig describes one MCP server. Command selects the stdio
// transport, URL the streamable HTTP transport.
type ServerConfig struct {
	Type string `json:"type,omitempty"`

	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Env map[string]string `json:"env,omitempty"`
}

// TransportType returns "http" or "stdio".
func (c *ServerConfig) TransportType() string {
	if c.Type == "http" || c.URL != "" {
		return "http"
	}
	return "stdio"
}

func (c *ServerConfig) Validate() error {
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("cannot specify both url and command")
	}
	if c.TransportType() == "http" {
		if c.URL == "" {
			return fmt.Errorf("http transport requires url")
		}
		return nil
	}
	if c.Command == "" {
		return fmt.Errorf("stdio transport requires command")
	}
	return nil
}

// LoadConfigFromPath reads the server file. A missing file yields an empty
// configuration.
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]ServerConfig)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
	for name, server := range cfg.Servers {
		if err := server.Validate(); err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
	}
	return &cfg, nil
}

// ServerNames returns the configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
