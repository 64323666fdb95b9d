package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestCreateStdioTransport_InheritsEnv(t *testing.T) {
	client := NewClient("sippy-db", ServerConfig{
		Command: "echo",
		Args:    []string{"hello"},
		Env:     map[string]string{"SIPPY_TOKEN": "abc"},
	})

	ct, ok := client.createStdioTransport(context.Background()).(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}
	var hasPath, hasCustom bool
	for _, e := range ct.Command.Env {
		hasPath = hasPath || strings.HasPrefix(e, "PATH=")
		hasCustom = hasCustom || e == "SIPPY_TOKEN=abc"
	}
	if !hasPath || !hasCustom {
		t.Fatalf("env = %v", ct.Command.Env)
	}
}

func TestCreateStdioTransport_NoEnvNil(t *testing.T) {
	client := NewClient("plain", ServerConfig{Command: "echo"})
	ct := client.createStdioTransport(context.Background()).(*sdkmcp.CommandTransport)
	if ct.Command.Env != nil {
		t.Fatal("env should stay nil so the child inherits the parent environment")
	}
}

func TestSetEnvOverrides(t *testing.T) {
	env := setEnv([]string{"PATH=/bin", "HOME=/root"}, "HOME", "/tmp")
	if len(env) != 2 || env[1] != "HOME=/tmp" {
		t.Fatalf("env = %v", env)
	}
}

func TestHeaderTransport(t *testing.T) {
	t.Setenv("MCP_TEST_TOKEN", "s3cret")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := &http.Client{Transport: headerTransport{
		headers: map[string]string{"Authorization": "Bearer ${MCP_TEST_TOKEN}"},
		base:    http.DefaultTransport,
	}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != "Bearer s3cret" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	if cfg, err := LoadConfigFromPath(filepath.Join(dir, "missing.json")); err != nil || len(cfg.Servers) != 0 {
		t.Fatalf("missing file = %+v, %v", cfg, err)
	}

	path := filepath.Join(dir, "mcp.json")
	os.WriteFile(path, []byte(`{"servers":{
		"search":{"url":"https://mcp.example/mcp","headers":{"Authorization":"Bearer x"}},
		"db":{"command":"sippy-mcp","args":["--read-only"]}}}`), 0o644)
	cfg, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if names := cfg.ServerNames(); len(names) != 2 || names[0] != "db" {
		t.Fatalf("names = %v", names)
	}
	search := cfg.Servers["search"]
	if search.TransportType() != "http" {
		t.Fatalf("transport = %s", search.TransportType())
	}

	os.WriteFile(path, []byte(`{"servers":{"bad":{"command":"x","url":"https://y"}}}`), 0o644)
	if _, err := LoadConfigFromPath(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestManagerWithoutServers(t *testing.T) {
	m := NewManager(nil)
	m.StartAll(context.Background(), 0)
	if len(m.Tools()) != 0 || len(m.States()) != 0 {
		t.Fatal("expected no tools")
	}
	if _, err := m.CallTool(context.Background(), "db__query", nil); err == nil {
		t.Fatal("expected not running error")
	}
	if _, err := m.CallTool(context.Background(), "query", nil); err == nil {
		t.Fatal("expected invalid name error")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestManagerRecordsFailedServer(t *testing.T) {
	m := NewManager(&Config{Servers: map[string]ServerConfig{
		"broken": {Command: filepath.Join(t.TempDir(), "does-not-exist")},
	}})
	m.StartAll(context.Background(), 0)
	states := m.States()
	if len(states) != 1 || states[0].Status != StatusFailed || states[0].Error == "" {
		t.Fatalf("states = %+v", states)
	}
}

func TestParseToolName(t *testing.T) {
	server, tool := parseToolName("sippy__query__v2")
	if server != "sippy" || tool != "query__v2" {
		t.Fatalf("got %q %q", server, tool)
	}
}
