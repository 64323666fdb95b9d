package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/ui"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the investigation tools available to the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, _, err := newToolRegistry(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer reg.Close()

		styles := ui.NewStyles(cmd.OutOrStdout(), nil)
		for _, spec := range reg.Specs() {
			summary, _, _ := strings.Cut(strings.TrimSpace(spec.Description), "\n")
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", styles.Tool.Render(spec.Name), summary)
		}
		return nil
	},
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the available personas",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		styles := ui.NewStyles(cmd.OutOrStdout(), nil)
		for _, p := range agent.Personas() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", styles.Highlight.Render(p.Name), p.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(personasCmd)
}
