package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/didirc/icd/config"
	"github.com/didirc/icd/crypto/storage"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/server"
)

var (
	serveConfigPath string
	serveEnvPath    string
	serveKeyDir     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the icd server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "icd.yaml", "path to the server config file")
	serveCmd.Flags().StringVar(&serveEnvPath, "env", ".env", "path to an optional .env file")
	serveCmd.Flags().StringVar(&serveKeyDir, "key-dir", "./keys", "directory holding the federation signing key")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(serveEnvPath); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFromFile(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level))

	keyStore, err := storage.NewFileKeyStorage(serveKeyDir)
	if err != nil {
		return fmt.Errorf("key storage: %w", err)
	}

	srv, err := server.New(cfg, keyStore, log)
	if err != nil {
		return fmt.Errorf("assemble server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("icd starting", logger.String("environment", cfg.Environment))
	return srv.Run(ctx)
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
