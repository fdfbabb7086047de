package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/murmur-app/murmur/internal/config"
)

var (
	// Global flags
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "murmurd",
	Short: "Continuous audio capture with speaker-attributed transcription",
	Long: `murmurd captures audio from the microphone and from running
communication apps, batches it into analysis windows, sends the windows
to an external speech engine, and resolves the resulting voice prints
into persistent speaker identities.

Configuration comes from defaults, an optional YAML file (--config),
and environment variables, in that order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if verbose {
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
			slog.SetDefault(logger)
		}
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}
