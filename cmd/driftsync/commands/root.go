// Package commands implements the driftsync client CLI.
package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/client"
	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/transport"
	"github.com/driftsync/driftsync/pkg/wire"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	flagHost     string
	flagPort     int
	flagTimeout  time.Duration
	flagAttempts int
	flagPairFile string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "driftsync [host] [port]",
	Short: "driftsync - file transfer and directory sync client",
	Long: `driftsync talks to a driftsyncd server: browse and fetch remote
files, upload files and directory trees, and keep remote directories in
sync with local ones.

Run without a subcommand to enter the interactive shell.

Use "driftsync [command] --help" for more information about a command.`,
	Args:          cobra.MaximumNArgs(2),
	RunE:          runShell,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagHost, "host", "H", "127.0.0.1", "server host")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "p", wire.DefaultControlPort, "server control port")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", transport.DefaultTimeout, "per-attempt reply timeout")
	rootCmd.PersistentFlags().IntVar(&flagAttempts, "attempts", transport.DefaultAttempts, "transmissions before giving up")
	rootCmd.PersistentFlags().StringVar(&flagPairFile, "sync-config", "sync_config.json", "sync pair store file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// setupLogging applies the verbosity flag before any command runs.
func setupLogging() {
	level := "WARN"
	if flagVerbose {
		level = "DEBUG"
	}
	logger.SetLevel(level)
}

// newClient connects to the server named by the global flags.
func newClient() (*client.Client, error) {
	setupLogging()
	return client.New(flagHost, flagPort, transport.Options{
		Timeout:  flagTimeout,
		Attempts: flagAttempts,
	})
}

// pairStore opens the sync pair store named by the global flag.
func pairStore() *client.PairStore {
	return client.NewPairStore(flagPairFile)
}
