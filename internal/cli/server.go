package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seaward/skiff/internal/config"
	"github.com/seaward/skiff/internal/server"
)

var (
	configFile  string
	port        int
	storagePath string
	dbPath      string
	logLevel    string
)

// NewServerCmd creates the server command.
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the S3-compatible server",
		Long:  "Start the skiff server that provides the S3-compatible API and the admin API.",
		RunE:  runServer,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "server port (default 3000)")
	cmd.Flags().StringVarP(&storagePath, "storage-path", "d", "", "object storage directory")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "metadata database path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override with command line flags
	if port != 0 {
		cfg.Server.Port = port
	}
	if storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	setupLogging(cfg.Logging)

	log.Info().
		Int("port", cfg.Server.Port).
		Str("storage_path", cfg.Storage.Path).
		Str("db_path", cfg.Storage.DBPath).
		Msg("Starting skiff server")

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return srv.Shutdown()
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
