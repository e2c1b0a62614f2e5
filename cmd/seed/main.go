package main

import (
	"context"
	"log"

	"github.com/spf13/pflag"

	"marketnotify/internal/config"
	"marketnotify/internal/database"
	"marketnotify/internal/devserver"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	pflag.Parse()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DevServer.DatabaseURL, nil)
	if err != nil {
		log.Fatal("DB connection failed:", err)
	}

	repo := devserver.NewRepository(db)

	log.Println("Running AutoMigrate...")
	if err := repo.Migrate(); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	ctx := context.Background()

	log.Println("Cleaning old data...")
	if err := devserver.Reset(ctx, repo); err != nil {
		log.Fatal(err)
	}

	log.Println("Creating users, products and notifications...")
	res, err := devserver.Seed(ctx, repo, cfg.DevServer.SeedPassword)
	if err != nil {
		log.Fatal("Seed failed:", err)
	}

	log.Printf("Seed completed: %d products, %d notifications", len(res.Products), res.Created)
	log.Println("Test accounts (password from devserver.seed_password):")
	log.Printf("Buyer:  %s (%s)", devserver.BuyerEmail, res.Buyer.ID)
	log.Printf("Seller: %s (%s)", devserver.SellerEmail, res.Seller.ID)
	log.Printf("Admin:  %s (%s)", devserver.AdminEmail, res.Admin.ID)
}
