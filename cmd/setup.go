package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/hostsweep/pkg/config"
	"github.com/user/hostsweep/pkg/oracle"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := runSetup(cmd, cfg); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "---------------------------------")
		fmt.Fprintln(out, "Setup Complete!")
		fmt.Fprintf(out, "VirusTotal keys: %d\n", len(cfg.Providers[config.ProviderVirusTotal].APIKeys))
		fmt.Fprintf(out, "Gemini keys:     %d\n", len(cfg.Providers[config.ProviderGemini].APIKeys))
		fmt.Fprintf(out, "Model:           %s\n", cfg.SelectedModel)
		fmt.Fprintf(out, "Business hours:  %d-%d\n", cfg.BusinessHours.Open, cfg.BusinessHours.Close)
		fmt.Fprintln(out, "You can now run 'hostsweep analyze'")
		return nil
	},
}

type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (p prompter) ask(question string) string {
	fmt.Fprintf(p.out, "%s\n> ", question)
	if !p.scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

// runSetup walks through the wizard and updates cfg in place. Blank answers
// keep the current value.
func runSetup(cmd *cobra.Command, cfg *config.Config) error {
	p := prompter{scanner: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
	fmt.Fprintln(p.out, "Welcome to the hostsweep setup wizard")
	fmt.Fprintln(p.out, "---------------------------------")

	// 1. Reputation keys
	for _, k := range splitKeys(p.ask("Step 1: VirusTotal API keys (comma separated, blank to skip)")) {
		cfg.AddAPIKey(config.ProviderVirusTotal, k)
	}

	// 2. Classification keys
	for _, k := range splitKeys(p.ask("\nStep 2: Gemini API keys (comma separated, blank to skip)")) {
		cfg.AddAPIKey(config.ProviderGemini, k)
	}

	// 3. Model
	if keys := cfg.Providers[config.ProviderGemini].APIKeys; len(keys) > 0 {
		fmt.Fprintln(p.out, "\nStep 3: Validating key and fetching available models...")
		models, err := oracle.ListModels(cmd.Context(), keys[0])
		if err != nil || len(models) == 0 {
			fmt.Fprintf(p.out, "Warning: could not fetch models: %v\n", err)
			if m := p.ask(fmt.Sprintf("Model name (blank keeps %s)", cfg.SelectedModel)); m != "" {
				cfg.SelectedModel = m
			}
		} else {
			for i, m := range models {
				fmt.Fprintf(p.out, "%d. %s\n", i+1, m)
			}
			cfg.SelectedModel = pickModel(p.ask("Select model (number)"), models, cfg.SelectedModel)
		}
	}

	// 4. Business hours
	answer := p.ask(fmt.Sprintf("\nStep 4: Business hours as open-close (blank keeps %d-%d)",
		cfg.BusinessHours.Open, cfg.BusinessHours.Close))
	if answer != "" {
		hours, err := parseHours(answer)
		if err != nil {
			return err
		}
		cfg.BusinessHours = hours
	}

	// 5. Snapshot directory
	if dir := p.ask("\nStep 5: Default snapshot directory (blank to skip)"); dir != "" {
		cfg.InputDir = dir
	}
	return cfg.Validate()
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// pickModel resolves a 1-based menu answer, falling back to current.
func pickModel(answer string, models []string, current string) string {
	i, err := strconv.Atoi(answer)
	if err != nil || i < 1 || i > len(models) {
		return current
	}
	return models[i-1]
}

func parseHours(s string) (config.BusinessHours, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return config.BusinessHours{}, fmt.Errorf("business hours %q: want open-close, e.g. 8-18", s)
	}
	o, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return config.BusinessHours{}, fmt.Errorf("business hours open: %w", err)
	}
	c, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return config.BusinessHours{}, fmt.Errorf("business hours close: %w", err)
	}
	return config.BusinessHours{Open: o, Close: c}, nil
}

func init() {
	configCmd.AddCommand(setupCmd)
}
