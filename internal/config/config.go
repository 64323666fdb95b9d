package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted in the provider field.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// ErrUnknownProvider is returned by Validate for an unsupported provider.
var ErrUnknownProvider = errors.New("unknown provider")

// KnownProviders lists the supported providers in display order.
func KnownProviders() []string {
	return []string{ProviderAnthropic, ProviderGemini, ProviderOpenAI, ProviderOllama}
}

type Config struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	LLMEndpoint string  `mapstructure:"llm_endpoint"` // base URL for openai-compatible servers and ollama
	Temperature float32 `mapstructure:"temperature"`

	MaxIterations    int           `mapstructure:"max_iterations"`
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	ShowThinking     bool          `mapstructure:"show_thinking"`
	Persona          string        `mapstructure:"persona"`

	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`

	SippyAPIURL          string     `mapstructure:"sippy_api_url"`
	ReleaseControllerURL string     `mapstructure:"release_controller_url"`
	DatabaseDSN          string     `mapstructure:"database_dsn"`
	Jira                 JiraConfig `mapstructure:"jira"`

	MCPConfigFile string   `mapstructure:"mcp_config_file"`
	PromptsDir    string   `mapstructure:"prompts_dir"`
	DisabledTools []string `mapstructure:"disabled_tools"` // glob patterns over tool names

	Serve ServeConfig `mapstructure:"serve"`
	Retry RetryConfig `mapstructure:"retry"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type JiraConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Token    string `mapstructure:"token"`
}

type ServeConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	MetricsPort int      `mapstructure:"metrics_port"` // 0 serves /metrics on Port
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderAnthropic)
	v.SetDefault("temperature", 0.0)
	v.SetDefault("max_iterations", 15)
	v.SetDefault("max_execution_time", 1800*time.Second)
	v.SetDefault("show_thinking", true)
	v.SetDefault("persona", "default")
	v.SetDefault("jira.url", "https://issues.redhat.com")
	v.SetDefault("release_controller_url", "https://amd64.ocp.releases.ci.openshift.org/api/v1")
	v.SetDefault("serve.host", "0.0.0.0")
	v.SetDefault("serve.port", 8000)
	v.SetDefault("serve.metrics_port", 0)
	v.SetDefault("serve.cors_origins", []string{"*"})
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
}

// Load reads config.yaml from path, or from the config directory and the
// working directory when path is empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolveEnv()
	return &cfg, nil
}

// resolveEnv expands $VAR references and falls back to the well-known
// environment variables for empty fields.
func (c *Config) resolveEnv() {
	c.Anthropic.APIKey = firstNonEmpty(expandEnv(c.Anthropic.APIKey), os.Getenv("ANTHROPIC_API_KEY"))
	c.Gemini.APIKey = firstNonEmpty(expandEnv(c.Gemini.APIKey), os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
	c.OpenAI.APIKey = firstNonEmpty(expandEnv(c.OpenAI.APIKey), os.Getenv("OPENAI_API_KEY"))
	c.SippyAPIURL = firstNonEmpty(expandEnv(c.SippyAPIURL), os.Getenv("SIPPY_API_URL"))
	c.DatabaseDSN = firstNonEmpty(expandEnv(c.DatabaseDSN), os.Getenv("SIPPY_READ_ONLY_DATABASE_DSN"))
	c.Jira.Username = firstNonEmpty(expandEnv(c.Jira.Username), os.Getenv("JIRA_USERNAME"))
	c.Jira.Token = firstNonEmpty(expandEnv(c.Jira.Token), os.Getenv("JIRA_TOKEN"))
	c.LLMEndpoint = expandEnv(c.LLMEndpoint)
	c.SippyAPIURL = strings.TrimRight(c.SippyAPIURL, "/")
}

// ApplyOverrides applies provider and model overrides from the command line.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		c.Model = model
	}
}

// Validate checks the fields that would otherwise fail deep inside a turn.
// knownPersona reports whether a persona name exists.
func (c *Config) Validate(knownPersona func(string) bool) error {
	found := false
	for _, p := range KnownProviders() {
		if c.Provider == p {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q (want one of %s)", ErrUnknownProvider, c.Provider, strings.Join(KnownProviders(), ", "))
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.MaxExecutionTime < 0 {
		return fmt.Errorf("max_execution_time must not be negative")
	}
	if knownPersona != nil && c.Persona != "" && !knownPersona(c.Persona) {
		return fmt.Errorf("unknown persona %q", c.Persona)
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetConfigDir returns the XDG config directory for sippy-chat.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "sippy-chat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "sippy-chat"), nil
}
