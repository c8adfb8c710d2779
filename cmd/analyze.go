package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/config"
	"github.com/user/hostsweep/pkg/engine"
	"github.com/user/hostsweep/pkg/logging"
	"github.com/user/hostsweep/pkg/oracle"
	"github.com/user/hostsweep/pkg/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [snapshot-dir]",
	Short: "Analyze a snapshot directory and print the findings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.MaxWorkers = workers
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		dir := cfg.InputDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no snapshot directory: pass one or set input_dir with 'hostsweep config setup'")
		}

		log := logging.New("cli")
		repo, err := artifact.LoadDir(dir, logging.New("artifact"))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		vtKeys := cfg.APIKeys(config.ProviderVirusTotal)
		geminiKeys := cfg.APIKeys(config.ProviderGemini)
		if len(vtKeys) == 0 {
			log.Warn("no VirusTotal keys configured, reputation checks disabled")
		}
		if len(geminiKeys) == 0 {
			log.Warn("no Gemini keys configured, startup, firewall and event log classification disabled")
		}
		oracles, err := oracle.NewSet(ctx, oracle.Options{
			VirusTotalKeys: vtKeys,
			GeminiKeys:     geminiKeys,
			Model:          cfg.SelectedModel,
		})
		if err != nil {
			return fmt.Errorf("build oracles: %w", err)
		}
		defer oracles.Close()

		eng := engine.New(oracles, engine.Config{
			Hours:   engine.BusinessHours{Open: cfg.BusinessHours.Open, Close: cfg.BusinessHours.Close},
			Workers: cfg.MaxWorkers,
			Logger:  logging.New("engine"),
		})

		log.Info("analyzing snapshot", "dir", dir, "host", repo.Host())
		res := eng.Run(ctx, repo)
		fmt.Fprint(cmd.OutOrStdout(), res.Summary())

		// The baseline is read before any report is written, so it may share the JSON path.
		if baseline, _ := cmd.Flags().GetString("baseline"); baseline != "" {
			prev, err := report.ReadJSON(baseline)
			if err != nil {
				return fmt.Errorf("load baseline: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), report.Compare(prev, res).Render(baseline))
		}

		return writeReports(cmd, cfg, res)
	},
}

func writeReports(cmd *cobra.Command, cfg *config.Config, res *engine.RunResult) error {
	jsonPath := cfg.Report.JSON
	if p, _ := cmd.Flags().GetString("json"); p != "" {
		jsonPath = p
	}
	sqlitePath := cfg.Report.SQLite
	if p, _ := cmd.Flags().GetString("sqlite"); p != "" {
		sqlitePath = p
	}

	var writers []report.Writer
	if jsonPath != "" {
		writers = append(writers, report.NewJSONWriter(jsonPath))
	}
	if sqlitePath != "" {
		w, err := report.NewSQLiteWriter(sqlitePath)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		return nil
	}

	mw := report.NewMultiWriter(writers...)
	if err := mw.Write(res); err != nil {
		_ = mw.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}
	logging.New("cli").Info("report written", "json", jsonPath, "sqlite", sqlitePath, "run", res.ID)
	return nil
}

func init() {
	analyzeCmd.Flags().String("json", "", "Write the run as JSON to this path")
	analyzeCmd.Flags().String("sqlite", "", "Append the run to this SQLite database")
	analyzeCmd.Flags().String("baseline", "", "Compare against a previous JSON report")
	analyzeCmd.Flags().Int("workers", 0, "Override max_workers from the config")
	rootCmd.AddCommand(analyzeCmd)
}
