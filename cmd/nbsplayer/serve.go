package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nbsplayer/internal/config"
	"nbsplayer/internal/server"

	"github.com/spf13/cobra"
)

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "./config.toml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playlist control server",
	Long: `Restores the saved playlist and serves the HTTP control API. Song files
dropped into the inbox directory are added to the playlist.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(serveConfigPath)
	},
}

func serve(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, logFile, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logFile.Close()

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.restore(); err != nil {
		logger.WithError(err).Warn("Could not restore saved playlist")
	}

	srv := server.NewServer(cfg, a.playlist, a.loader, a.state, a.db, logger)

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	select {
	case err := <-errs:
		if err != nil {
			logger.WithError(err).Error("Server failed")
		}
		return err
	case <-c:
		logger.Info("Received shutdown signal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Server shutdown incomplete")
	}
	return nil
}
