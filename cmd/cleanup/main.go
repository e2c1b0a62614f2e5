package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/pflag"

	"marketnotify/internal/config"
	"marketnotify/internal/database"
	"marketnotify/internal/devserver"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	olderThan := pflag.Duration("older-than", 30*24*time.Hour, "delete read notifications older than this")
	pflag.Parse()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DevServer.DatabaseURL, nil)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	n, err := devserver.NewRepository(db).DeleteReadBefore(context.Background(), time.Now().Add(-*olderThan))
	if err != nil {
		log.Fatalf("cleanup notifications failed: %v", err)
	}

	log.Printf("notification cleanup completed: notifications=%d", n)
}
