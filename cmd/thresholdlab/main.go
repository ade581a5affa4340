// Command thresholdlab runs coordinate threshold searches against an
// evaluation backend and publishes the best formulas found.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "thresholdlab"
	version = "v0.3.0"
)

type rootFlags struct {
	logLevel string
	logJSON  bool
	config   string
	envFile  string
}

func main() {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Coordinate-refinement threshold search",
		Version: version,
		Long: `thresholdlab refines the bound of each variable in a trading-rule formula,
one variable at a time, over three coarse-to-fine rounds, and reports the
top-scoring formulas.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(flags.logLevel, flags.logJSON)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug|info|warn|error); overrides config")
	rootCmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "Log JSON instead of console output")
	rootCmd.PersistentFlags().StringVar(&flags.config, "config", "", "Path to the YAML search configuration")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional .env file with THRESHOLD_LAB_* overrides")

	rootCmd.AddCommand(
		newRunCmd(&flags),
		newMigrateCmd(&flags),
		newReportCmd(&flags),
		newServeMetricsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger. An empty level keeps
// info until the config is loaded.
func setupLogging(level string, jsonOutput bool) error {
	zerolog.TimeFieldFormat = time.RFC3339
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	if level == "" {
		level = "info"
	}
	return applyLogLevel(level)
}

func applyLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
