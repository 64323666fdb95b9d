package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath   string
	providerFlag string
	modelFlag    string
	logLevel     string
	logFormat    string
	debugLogDir  string
)

var rootCmd = &cobra.Command{
	Use:   "sippy-chat",
	Short: "Chat assistant for CI job failure analysis",
	Long: `sippy-chat answers questions about OpenShift CI job failures by letting a
language model call read-only investigation tools: job summaries, log
search, Jira incidents, release payloads, JUnit parsing, component
readiness reports and the Sippy database.

Examples:
  sippy-chat chat "why did prow job 1934795512955801600 fail?"
  sippy-chat chat --persona zorp
  sippy-chat serve --port 8000
  sippy-chat tools`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logFormat)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/sippy-chat/config.yaml)")
	AddProviderFlag(rootCmd, &providerFlag)
	flags.StringVarP(&modelFlag, "model", "m", "", "Override the model name")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
	flags.StringVar(&debugLogDir, "debug-log", "", "Write a JSONL debug log per turn to this directory")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
	return nil
}
