package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("acquire instance lock", logging.Error(err))
		os.Exit(1)
	}
	if !locked {
		logger.Error("another kilnd instance is already running", logging.String("lock", cfg.LockPath()))
		os.Exit(1)
	}
	defer lock.Unlock() //nolint:errcheck

	if err := writeMarker(cfg.Server.MarkerFile); err != nil {
		logger.Error("write service marker", logging.Error(err))
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("create api server", logging.Error(err))
		os.Exit(1)
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error("start api server", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	srv.Stop()
	logger.Info("kilnd shutting down")
}

// writeMarker creates the availability marker the guard pipeline checks on
// every submission. Removing the file disables telemetry intake without
// stopping the daemon.
func writeMarker(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("ok\n"), 0o644)
}
