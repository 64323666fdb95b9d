package tools

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gobwas/glob"
	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/cache"
	"github.com/openshift/sippy-chat/internal/llm"
)

// Config wires the tools to their backends. Empty URLs fall back to the
// public defaults except SippyAPIURL, whose tools then report
// ErrNotConfigured when called.
type Config struct {
	SippyAPIURL          string
	ReleaseControllerURL string
	Jira                 JiraConfig
	// DatabaseDSN enables query_sippy_database when set.
	DatabaseDSN string
	// Disabled holds glob patterns of tool names to leave out.
	Disabled   []string
	HTTPClient *http.Client
}

// Registry holds the investigation tools of one process.
type Registry struct {
	tools    map[string]llm.Tool
	order    []string
	disabled []glob.Glob
	closers  []io.Closer
}

// NewRegistry builds every enabled tool from cfg.
func NewRegistry(cfg Config) (*Registry, error) {
	r := &Registry{tools: make(map[string]llm.Tool)}
	for _, pattern := range cfg.Disabled {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid disabled tool pattern %q: %w", pattern, err)
		}
		r.disabled = append(r.disabled, g)
	}

	client := newHTTPClient(cfg.HTTPClient)
	sippy := sippyAPI{baseURL: cfg.SippyAPIURL, http: client}
	jira := jiraClient{cfg: cfg.Jira, http: client}
	rc := releaseController{baseURL: cfg.ReleaseControllerURL, http: client}

	r.Add(newJobSummaryTool(sippy))
	r.Add(newJobPayloadTool(sippy))
	r.Add(newLogAnalyzerTool(sippy, cache.New(0)))
	r.Add(newAggregatedResultsTool(sippy))
	r.Add(newKnownIncidentsTool(jira))
	r.Add(newJiraIssueTool(jira))
	r.Add(newReleasePayloadsTool(rc))
	r.Add(newPayloadDetailsTool(rc))
	r.Add(newJUnitParserTool(client))
	r.Add(newTestDetailsTool(sippy))
	r.Add(newTriagePotentialMatchTool(sippy))

	if cfg.DatabaseDSN != "" && !r.IsDisabled(DatabaseQueryToolName) {
		db, err := newDatabaseQueryTool(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("database tool: %w", err)
		}
		r.Add(db)
		r.closers = append(r.closers, db)
	}

	log.WithField("tools", r.order).Debug("tool registry ready")
	return r, nil
}

// IsDisabled reports whether name matches a disabled pattern.
func (r *Registry) IsDisabled(name string) bool {
	for _, g := range r.disabled {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Add registers tool unless its name is disabled. A later tool with the
// same name replaces the earlier one. It reports whether the tool was added.
func (r *Registry) Add(tool llm.Tool) bool {
	name := tool.Spec().Name
	if r.IsDisabled(name) {
		log.WithField("tool", name).Debug("tool disabled by configuration")
		return false
	}
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	return true
}

// AddCloser ties the lifetime of c to the registry.
func (r *Registry) AddCloser(c io.Closer) {
	r.closers = append(r.closers, c)
}

func (r *Registry) Get(name string) (llm.Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs returns the specs of all registered tools in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// ToolRegistry returns an engine registry holding every tool.
func (r *Registry) ToolRegistry() *llm.ToolRegistry {
	reg := llm.NewToolRegistry()
	for _, name := range r.order {
		reg.Register(r.tools[name])
	}
	return reg
}

// Close releases database handles and MCP sessions.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
