package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/user/hostsweep/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "hostsweep",
	Short: "Triage a forensic snapshot of a Windows host",
	Long: `hostsweep reads the CSV tables collected from a Windows host and flags
processes, connections, autostart entries and other artifacts that look
attacker-controlled, optionally asking VirusTotal and Gemini for a second opinion.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if DebugMode {
			level = slog.LevelDebug
		}
		logging.Init(level, LogFormat, cmd.ErrOrStderr())
	},
}

var (
	DebugMode bool
	LogFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&LogFormat, "log-format", "auto", "Log format: text, json or auto")
}
