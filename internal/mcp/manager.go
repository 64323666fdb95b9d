package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultStartTimeout bounds how long one server may take to come up.
const DefaultStartTimeout = 30 * time.Second

// ServerStatus is the lifecycle state of a managed server.
type ServerStatus string

const (
	StatusStopped ServerStatus = "stopped"
	StatusReady   ServerStatus = "ready"
	StatusFailed  ServerStatus = "failed"
)

// ServerState reports one server for /status.
type ServerState struct {
	Name   string       `json:"name"`
	Status ServerStatus `json:"status"`
	Tools  int          `json:"tools"`
	Error  string       `json:"error,omitempty"`
}

// Manager owns the MCP servers of one process and exposes their tools.
type Manager struct {
	config   *Config
	clients  map[string]*Client
	statuses map[string]*ServerState
	mu       sync.RWMutex
	log      *log.Entry
}

func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{Servers: make(map[string]ServerConfig)}
	}
	return &Manager{
		config:   cfg,
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
		log:      log.WithField("component", "mcp"),
	}
}

// StartAll starts every configured server concurrently and waits for them.
// A server that fails to start is logged and skipped; its tools are simply
// unavailable.
func (m *Manager) StartAll(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	var wg sync.WaitGroup
	for _, name := range m.config.ServerNames() {
		client := NewClient(name, m.config.Servers[name])
		wg.Add(1)
		go func() {
			defer wg.Done()
			startCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err := client.Start(startCtx)
			m.record(client, err)
		}()
	}
	wg.Wait()
}

func (m *Manager) record(client *Client, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := &ServerState{Name: client.Name(), Status: StatusReady}
	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
		m.log.WithError(err).WithField("server", client.Name()).Warn("MCP server failed to start")
	} else {
		m.clients[client.Name()] = client
		state.Tools = len(client.Tools())
		m.log.WithFields(log.Fields{"server": client.Name(), "tools": state.Tools}).Info("MCP server ready")
	}
	m.statuses[client.Name()] = state
}

// Close stops all running servers.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	for _, state := range m.statuses {
		state.Status = StatusStopped
	}
	m.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AllTools returns the tools of all running servers, named
// "server__tool" so they cannot collide with built-in tools.
func (m *Manager) AllTools() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []ToolSpec
	for _, name := range m.config.ServerNames() {
		client, ok := m.clients[name]
		if !ok {
			continue
		}
		for _, tool := range client.Tools() {
			all = append(all, ToolSpec{
				Name:        name + "__" + tool.Name,
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	return all
}

// CallTool routes a prefixed tool name to its server.
func (m *Manager) CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected servername__toolname)", fullName)
	}

	m.mu.RLock()
	client, ok := m.clients[serverName]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("MCP server %s is not running", serverName)
	}
	return client.CallTool(ctx, toolName, args)
}

func parseToolName(fullName string) (serverName, toolName string) {
	if i := strings.Index(fullName, "__"); i > 0 {
		return fullName[:i], fullName[i+2:]
	}
	return "", fullName
}

// States returns every server's state, sorted by name.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, name := range m.config.ServerNames() {
		if s, ok := m.statuses[name]; ok {
			states = append(states, *s)
		}
	}
	return states
}
