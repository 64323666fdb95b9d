package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/config"
	"github.com/openshift/sippy-chat/internal/llm"
	"github.com/openshift/sippy-chat/internal/mcp"
	"github.com/openshift/sippy-chat/internal/metrics"
	"github.com/openshift/sippy-chat/internal/tools"
)

const debugLogRetention = 7 * 24 * time.Hour

// loadConfig reads the config file and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	provider, model := parseProviderModel(providerFlag)
	cfg.ApplyOverrides(provider, model)
	cfg.ApplyOverrides("", modelFlag)
	if err := cfg.Validate(agent.IsPersona); err != nil {
		return nil, err
	}
	return cfg, nil
}

// chatRuntime is everything a turn needs, built once per process.
type chatRuntime struct {
	cfg      *config.Config
	provider llm.Provider
	tools    *tools.Registry
	mcp      *mcp.Manager
	driver   *agent.Driver
	metrics  *metrics.Metrics
}

// newRuntime builds the tool registry (including MCP tools), the provider
// and the driver. m may be nil.
func newRuntime(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*chatRuntime, error) {
	reg, manager, err := newToolRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &chatRuntime{cfg: cfg, tools: reg, mcp: manager, metrics: m}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		reg.Close()
		return nil, err
	}
	rt.provider = provider

	if debugLogDir != "" {
		if err := llm.CleanupOldLogs(debugLogDir, debugLogRetention); err != nil {
			log.WithError(err).Warn("debug log cleanup failed")
		}
	}

	rt.driver = agent.NewDriver(llm.NewEngine(provider, reg.ToolRegistry()), agent.Options{
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		MaxIterations:    cfg.MaxIterations,
		MaxExecutionTime: cfg.MaxExecutionTime,
		DebugLogDir:      debugLogDir,
		Metrics:          m,
	})
	log.WithFields(log.Fields{
		"provider": provider.Name(),
		"model":    cfg.Model,
		"tools":    len(reg.Names()),
	}).Info("agent ready")
	return rt, nil
}

// newToolRegistry builds the built-in tools and appends the tools of every
// configured MCP server. MCP tools matching a disabled pattern are skipped.
// The manager is nil when no MCP config file is set.
func newToolRegistry(ctx context.Context, cfg *config.Config) (*tools.Registry, *mcp.Manager, error) {
	reg, err := tools.NewRegistry(tools.Config{
		SippyAPIURL:          cfg.SippyAPIURL,
		ReleaseControllerURL: cfg.ReleaseControllerURL,
		Jira:                 tools.JiraConfig{URL: cfg.Jira.URL, Username: cfg.Jira.Username, Token: cfg.Jira.Token},
		DatabaseDSN:          cfg.DatabaseDSN,
		Disabled:             cfg.DisabledTools,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.MCPConfigFile == "" {
		return reg, nil, nil
	}

	mcpCfg, err := mcp.LoadConfigFromPath(cfg.MCPConfigFile)
	if err != nil {
		reg.Close()
		return nil, nil, fmt.Errorf("load MCP config: %w", err)
	}
	manager := mcp.NewManager(mcpCfg)
	manager.StartAll(ctx, 0)
	reg.AddCloser(manager)
	for _, t := range manager.Tools() {
		if !reg.Add(t) {
			log.WithField("tool", t.Spec().Name).Debug("MCP tool skipped")
		}
	}
	return reg, manager, nil
}

func (rt *chatRuntime) Close() error {
	if rt == nil || rt.tools == nil {
		return nil
	}
	return rt.tools.Close()
}

// turnInput fills the per-request defaults from the config.
func (rt *chatRuntime) turnInput(message string, history []agent.ChatMessage, showThinking *bool, persona string, pageContext map[string]any) (agent.TurnInput, error) {
	in := agent.TurnInput{
		Message:      message,
		History:      history,
		ShowThinking: rt.cfg.ShowThinking,
		Persona:      rt.cfg.Persona,
		PageContext:  pageContext,
	}
	if showThinking != nil {
		in.ShowThinking = *showThinking
	}
	if persona != "" {
		if !agent.IsPersona(persona) {
			return in, fmt.Errorf("unknown persona %q", persona)
		}
		in.Persona = persona
	}
	if in.Message == "" {
		return in, errors.New("message is required")
	}
	return in, nil
}
