package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/correlate"
	"github.com/openshift/sippy-chat/internal/metrics"
	"github.com/openshift/sippy-chat/internal/prompts"
	"github.com/openshift/sippy-chat/internal/signal"
)

const (
	shutdownTimeout = 10 * time.Second
	errorResponse   = "I encountered an error while processing your request."
)

var (
	serveHost        string
	servePort        int
	serveMetricsPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat HTTP and websocket server",
	Long: `Run the HTTP server used by the Sippy web UI.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /status
  GET  /chat/personas
  POST /chat
  GET  /chat/stream                   (websocket)
  GET  /chat/prompts
  POST /chat/prompts/render`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config)")
	serveCmd.Flags().IntVar(&serveMetricsPort, "metrics-port", 0, "Serve /metrics on a separate port")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Serve.Host = serveHost
	}
	if servePort != 0 {
		cfg.Serve.Port = servePort
	}
	if serveMetricsPort != 0 {
		cfg.Serve.MetricsPort = serveMetricsPort
	}
	if cfg.Serve.Port <= 0 || cfg.Serve.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Serve.Port)
	}

	m := metrics.New()
	rt, err := newRuntime(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer rt.Close()

	pm, err := prompts.NewManager(cfg.PromptsDir)
	if err != nil {
		return err
	}

	srv := newChatServer(rt, pm, m, cfg.Serve.CORSOrigins, cfg.Serve.MetricsPort == 0)
	servers := []*http.Server{{
		Addr:              net.JoinHostPort(cfg.Serve.Host, fmt.Sprint(cfg.Serve.Port)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Serve.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		servers = append(servers, &http.Server{
			Addr:              net.JoinHostPort(cfg.Serve.Host, fmt.Sprint(cfg.Serve.MetricsPort)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func() {
			log.WithField("addr", s.Addr).Info("listening")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", s.Addr, err)
			}
		}()
	}

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if serr := s.Shutdown(shutdownCtx); serr != nil {
			log.WithError(serr).WithField("addr", s.Addr).Warn("shutdown")
		}
	}
	return err
}

// chatServer serves the web UI endpoints.
type chatServer struct {
	rt           *chatRuntime
	prompts      *prompts.Manager
	metrics      *metrics.Metrics
	corsOrigins  []string
	serveMetrics bool
	upgrader     websocket.Upgrader
	log          *log.Entry
}

func newChatServer(rt *chatRuntime, pm *prompts.Manager, m *metrics.Metrics, corsOrigins []string, serveMetrics bool) *chatServer {
	s := &chatServer{
		rt:           rt,
		prompts:      pm,
		metrics:      m,
		corsOrigins:  corsOrigins,
		serveMetrics: serveMetrics,
		log:          log.WithField("component", "serve"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin) != ""
		},
	}
	return s
}

func (s *chatServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.serveMetrics {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /chat/personas", s.handlePersonas)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/stream", s.handleStream)
	mux.HandleFunc("GET /chat/prompts", s.handleListPrompts)
	mux.HandleFunc("POST /chat/prompts/render", s.handleRenderPrompt)
	return s.logRequests(s.cors(mux))
}

func (s *chatServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     Version,
		"agent_ready": s.rt != nil && s.rt.driver != nil,
	})
}

type statusResponse struct {
	AvailableTools    []string          `json:"available_tools"`
	Provider          string            `json:"provider"`
	ModelName         string            `json:"model_name"`
	Endpoint          string            `json:"endpoint"`
	ThinkingEnabled   bool              `json:"thinking_enabled"`
	CurrentPersona    string            `json:"current_persona"`
	AvailablePersonas []string          `json:"available_personas"`
	MCPServers        []mcpServerStatus `json:"mcp_servers,omitempty"`
}

type mcpServerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Tools  int    `json:"tools"`
	Error  string `json:"error,omitempty"`
}

func (s *chatServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.rt.cfg
	resp := statusResponse{
		AvailableTools:    s.rt.tools.Names(),
		Provider:          s.rt.provider.Name(),
		ModelName:         cfg.Model,
		Endpoint:          cfg.LLMEndpoint,
		ThinkingEnabled:   cfg.ShowThinking,
		CurrentPersona:    cfg.Persona,
		AvailablePersonas: agent.PersonaNames(),
	}
	if s.rt.mcp != nil {
		for _, st := range s.rt.mcp.States() {
			resp.MCPServers = append(resp.MCPServers, mcpServerStatus{Name: st.Name, Status: string(st.Status), Tools: st.Tools, Error: st.Error})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *chatServer) handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"personas":        agent.Personas(),
		"current_persona": s.rt.cfg.Persona,
	})
}

// chatRequest is the body of POST /chat and each websocket frame.
type chatRequest struct {
	// Type is "cancel" for a websocket cancel frame and empty otherwise.
	Type         string              `json:"type,omitempty"`
	Message      string              `json:"message"`
	ChatHistory  []agent.ChatMessage `json:"chat_history"`
	ShowThinking *bool               `json:"show_thinking"`
	Persona      string              `json:"persona"`
	PageContext  map[string]any      `json:"page_context"`
}

type chatResponse struct {
	Response       string                `json:"response"`
	ThinkingSteps  []correlate.Step      `json:"thinking_steps"`
	ToolsUsed      []string              `json:"tools_used"`
	Visualizations []agent.Visualization `json:"visualizations"`
	Status         agent.Status          `json:"status,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func (s *chatServer) handleChat(w http.ResponseWriter, r *http.Request) {
	s.metrics.MessageReceived("http")
	if err := requireJSONContentType(r); err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, chatResponse{Response: errorResponse, Error: err.Error()})
		return
	}
	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: errorResponse, Error: "invalid request body: " + err.Error()})
		return
	}
	s.metrics.MessageSize("request", len(req.Message))

	in, err := s.rt.turnInput(req.Message, req.ChatHistory, req.ShowThinking, req.Persona, req.PageContext)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: errorResponse, Error: err.Error()})
		return
	}

	start := time.Now()
	res, err := s.rt.driver.Handle(r.Context(), in, nil)
	s.metrics.ObserveResponse("http", time.Since(start).Seconds())
	switch {
	case errors.Is(err, agent.ErrCancelled):
		// The client went away; nobody reads the response.
		s.metrics.Cancelled("http")
		return
	case err != nil:
		s.log.WithError(err).Error("error processing chat request")
		s.metrics.Error("processing_error")
		writeJSON(w, http.StatusOK, chatResponse{Response: errorResponse, Error: err.Error()})
		return
	}

	s.metrics.MessageSize("response", len(res.FinalText))
	writeJSON(w, http.StatusOK, chatResponse{
		Response:       res.FinalText,
		ThinkingSteps:  nonNil(res.Steps),
		ToolsUsed:      nonNil(res.ToolsUsed),
		Visualizations: nonNil(res.Visualizations),
		Status:         res.Status,
	})
}

func (s *chatServer) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": nonNil(s.prompts.List())})
}

// renderPromptRequest is the body of POST /chat/prompts/render. Name is
// accepted as an alias of PromptName.
type renderPromptRequest struct {
	PromptName string         `json:"prompt_name"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
}

func (s *chatServer) handleRenderPrompt(w http.ResponseWriter, r *http.Request) {
	if err := requireJSONContentType(r); err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": err.Error()})
		return
	}
	var body renderPromptRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}
	name := body.PromptName
	if name == "" {
		name = body.Name
	}
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "prompt_name is required"})
		return
	}
	rendered, err := s.prompts.Render(name, body.Arguments)
	switch {
	case errors.Is(err, prompts.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"prompt_name": name, "rendered": rendered})
	}
}

// originAllowed returns the Access-Control-Allow-Origin value for origin,
// or "" when it is not allowed.
func (s *chatServer) originAllowed(origin string) string {
	for _, o := range s.corsOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return "*"
		}
		if o != "" && o == origin {
			return origin
		}
	}
	return ""
}

func (s *chatServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if allow := s.originAllowed(origin); allow != "" {
				w.Header().Set("Access-Control-Allow-Origin", allow)
				if allow != "*" {
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the request log. It keeps
// Hijack working for websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not implement http.Hijacker")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *chatServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
