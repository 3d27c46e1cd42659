package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/internal/server"
	"github.com/driftsync/driftsync/pkg/config"
)

var (
	flagPort int
	flagRoot string
)

var startCmd = &cobra.Command{
	Use:   "start [port]",
	Short: "Start the driftsync server",
	Long: `Start the driftsync server in the foreground.

The control port can be given positionally, via --port, via the config
file, or via DRIFTSYNC_SERVER_PORT. The confinement root is created if it
does not exist.

Examples:
  # Defaults: port 51234, root ./serverfile
  driftsyncd start

  # Positional port
  driftsyncd start 6000

  # Custom root and config file
  driftsyncd start --root /srv/driftsync --config /etc/driftsync.yaml

  # Environment override
  DRIFTSYNC_LOGGING_LEVEL=DEBUG driftsyncd start`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "UDP control port")
	startCmd.Flags().StringVarP(&flagRoot, "root", "r", "", "confinement root directory")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Flags beat the config file; the positional port beats both.
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flagPort
	}
	if cmd.Flags().Changed("root") {
		cfg.Server.Root = flagRoot
	}
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		cfg.Server.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	logger.Info("Starting driftsyncd", "version", Version)
	return srv.Serve(ctx)
}
