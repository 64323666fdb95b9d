package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/config"
)

// AddProviderFlag adds the persistent --provider/-p flag with completion.
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.PersistentFlags().StringVarP(dest, "provider", "p", "", "Override provider, optionally with model (e.g., gemini:gemini-2.5-pro)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddPersonaFlag adds the --persona flag with completion.
func AddPersonaFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVar(dest, "persona", "", "Persona to answer with (default from config)")
	if err := cmd.RegisterFlagCompletionFunc("persona", PersonaFlagCompletion); err != nil {
		panic("failed to register persona completion: " + err.Error())
	}
}

// AddMaxIterationsFlag adds the --max-iterations flag. Zero keeps the config value.
func AddMaxIterationsFlag(cmd *cobra.Command, dest *int) {
	cmd.Flags().IntVar(dest, "max-iterations", 0, "Max tool-calling iterations per turn (default from config)")
}

// ProviderFlagCompletion completes provider names.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, p := range config.KnownProviders() {
		if strings.HasPrefix(p, toComplete) {
			out = append(out, p)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// PersonaFlagCompletion completes persona names with their descriptions.
func PersonaFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, p := range agent.Personas() {
		if strings.HasPrefix(p.Name, toComplete) {
			out = append(out, p.Name+"\t"+p.Description)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// parseProviderModel splits "provider:model".
func parseProviderModel(s string) (provider, model string) {
	provider, model, _ = strings.Cut(s, ":")
	return provider, model
}
