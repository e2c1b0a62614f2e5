package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"marketnotify/internal/config"
	"marketnotify/internal/database"
	"marketnotify/internal/devserver"
	"marketnotify/internal/pkg/jwt"
	"marketnotify/internal/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	seed := pflag.Bool("seed", false, "seed an empty database on start")
	failMarkRead := pflag.Bool("fail-mark-read", false, "reject every mark-read request")
	pflag.Parse()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, _, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.ValidateDevServer(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg.DevServer.DatabaseURL, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}

	srv := devserver.New(db, jwt.New(cfg.DevServer.JWTSecret, cfg.DevServer.JWTTTL),
		devserver.Options{FailMarkRead: *failMarkRead}, log)
	if err := srv.Repo.Migrate(); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	if *seed {
		if _, err := srv.Repo.GetUserByEmail(context.Background(), devserver.BuyerEmail); errors.Is(err, devserver.ErrNotFound) {
			res, err := devserver.Seed(context.Background(), srv.Repo, cfg.DevServer.SeedPassword)
			if err != nil {
				log.Fatal("seed failed", zap.Error(err))
			}
			log.Info("database seeded", zap.Int("notifications", res.Created))
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.DevServer.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("devserver listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
