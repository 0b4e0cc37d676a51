// Package cmd provides the sigmalens command-line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sigmalens/bootstrap"
	"sigmalens/clipboard"
	"sigmalens/config"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	faintColor   = color.New(color.Faint)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

const (
	maxPayloadFileSize = 10 * 1024 * 1024
	defaultTimeout     = 2 * time.Minute
)

// newClipboard is replaced in tests.
var newClipboard = func() *clipboard.Writer { return clipboard.NewWriter() }

// NewRootCmd creates the sigmalens command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sigmalens",
		Short: "Inspect SIGMA detection rules as boolean condition trees",
		Long: `sigmalens renders the detection logic of SIGMA rules as a tree of AND/OR/NOT
groups and field conditions, shows the raw linear query next to it and searches
the local rule catalog.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newSearchCmd())

	return rootCmd
}

// loadConfig honors --config before falling back to the default search paths.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// cliLogger logs warnings and errors to stderr.
func cliLogger() *zap.SugaredLogger {
	_, sugar, err := bootstrap.InitLogger("warn")
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return sugar
}

func outputAsJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
