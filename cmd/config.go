package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/hostsweep/pkg/config"
	"github.com/user/hostsweep/pkg/oracle"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (API keys, model, business hours)",
}

func providerFlag(cmd *cobra.Command) (string, error) {
	p, _ := cmd.Flags().GetString("provider")
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case config.ProviderVirusTotal, config.ProviderGemini:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q (want %s or %s)", p, config.ProviderVirusTotal, config.ProviderGemini)
}

var addKeyCmd = &cobra.Command{
	Use:   "add-key",
	Short: "Add an API key to a provider's key pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := providerFlag(cmd)
		if err != nil {
			return err
		}
		key, _ := cmd.Flags().GetString("key")
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("--key is required")
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if !cfg.AddAPIKey(provider, key) {
			fmt.Fprintf(cmd.OutOrStdout(), "Key already present for %s\n", provider)
			return nil
		}
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key added for %s (%d in pool)\n", provider, len(cfg.Providers[provider].APIKeys))
		return nil
	},
}

var removeKeyCmd = &cobra.Command{
	Use:   "remove-key",
	Short: "Remove an API key from a provider's key pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := providerFlag(cmd)
		if err != nil {
			return err
		}
		key, _ := cmd.Flags().GetString("key")

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if !cfg.RemoveAPIKey(provider, key) {
			return fmt.Errorf("key not found for %s", provider)
		}
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key removed from %s\n", provider)
		return nil
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model",
	Short: "Set the Gemini model used for classification",
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("--model is required")
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.SelectedModel = strings.TrimSpace(model)
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Model set to %s\n", cfg.SelectedModel)
		return nil
	},
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List the Gemini models available to the first configured key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		keys := cfg.APIKeys(config.ProviderGemini)
		if len(keys) == 0 {
			return fmt.Errorf("no Gemini key configured, run 'hostsweep config add-key -p gemini -k <key>'")
		}

		models, err := oracle.ListModels(cmd.Context(), keys[0])
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Available models:")
		for _, m := range models {
			mark := " "
			if m == cfg.SelectedModel {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, m)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{addKeyCmd, removeKeyCmd} {
		c.Flags().StringP("provider", "p", "", "Provider (virustotal, gemini)")
		c.Flags().StringP("key", "k", "", "API key")
	}
	setModelCmd.Flags().StringP("model", "m", "", "Model name")

	configCmd.AddCommand(addKeyCmd)
	configCmd.AddCommand(removeKeyCmd)
	configCmd.AddCommand(setModelCmd)
	configCmd.AddCommand(listModelsCmd)
	rootCmd.AddCommand(configCmd)
}
