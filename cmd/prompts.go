package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openshift/sippy-chat/internal/prompts"
	"github.com/openshift/sippy-chat/internal/ui"
)

var promptArgs []string

var promptsCmd = &cobra.Command{
	Use:   "prompts [name]",
	Short: "List prompt templates, or render one",
	Long: `List the prompt templates found under prompts_dir, or render one.

Examples:
  sippy-chat prompts
  sippy-chat prompts regression-analysis --arg test_details_url=https://sippy.dptools.openshift.org/...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPrompts,
}

func init() {
	promptsCmd.Flags().StringArrayVar(&promptArgs, "arg", nil, "Template argument as key=value (repeatable)")
	rootCmd.AddCommand(promptsCmd)
}

func runPrompts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manager, err := prompts.NewManager(cfg.PromptsDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		styles := ui.NewStyles(out, nil)
		for _, p := range manager.List() {
			fmt.Fprintf(out, "%s\n  %s\n", styles.Highlight.Render(p.Name), p.Description)
			for _, a := range p.Arguments {
				req := ""
				if a.Required {
					req = " (required)"
				}
				fmt.Fprintf(out, "    --arg %s=...%s %s\n", a.Name, req, styles.Muted.Render(a.Description))
			}
		}
		return nil
	}

	values, err := parseKeyValues(promptArgs)
	if err != nil {
		return err
	}
	rendered, err := manager.Render(args[0], values)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	return nil
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --arg %q (want key=value)", pair)
		}
		values[strings.TrimSpace(k)] = v
	}
	return values, nil
}
