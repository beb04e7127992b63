package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
)

// rootCmd represents the base command for the cftmail application
var rootCmd = &cobra.Command{
	Use:   "cftmail",
	Short: "Sends official correspondence through each user's own Gmail account",
	Long: `cftmail lets signed-in users send messages to the officials they manage,
through their own Gmail account, with per-user rate limiting and a record of
who has already been written to.

It can run as:
  - An HTTP API server (serve)
  - A command-line client of that server (token, send)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

var (
	debugMode bool
	logFormat string
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cftmail version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the persistent flags. Logs go to
// stderr so command output on stdout stays machine-readable.
func newLogger() *slog.Logger {
	format := logging.Format(logFormat)
	if debugMode && logFormat == "" {
		format = logging.FormatText
	}
	logger := logging.New(os.Stderr, format, debugMode)
	slog.SetDefault(logger)
	return logger
}

func validateLogFormat(_ *cobra.Command, _ []string) error {
	switch logging.Format(logFormat) {
	case "", logging.FormatJSON, logging.FormatText:
		return nil
	}
	return fmt.Errorf("invalid --log-format %q: must be json or text", logFormat)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (text format unless --log-format is set)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or text (default: json)")
	rootCmd.PersistentPreRunE = validateLogFormat

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newVersionCmd())
}
