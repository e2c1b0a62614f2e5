package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"marketnotify/internal/app"
	"marketnotify/internal/config"
	"marketnotify/internal/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (yaml, json or toml)")
	pflag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, level, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if *configPath != "" {
		app.WatchLogLevel(v, level, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	if err := a.Run(ctx); err != nil {
		log.Fatal("daemon stopped", zap.Error(err))
	}
	log.Info("daemon stopped")
}
