package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mama165/sdk-go/logs"
	"github.com/xtrntr/tradechat/internal/auth"
	"github.com/xtrntr/tradechat/internal/config"
	"github.com/xtrntr/tradechat/internal/db"
	"github.com/xtrntr/tradechat/internal/models"
)

const seedPassword = "password123"

var seedItems = []struct {
	name  string
	price int64
}{
	{"Road bike", 45000},
	{"Film camera", 12000},
	{"Standing desk", 30000},
}

// Seed the database with two users and a few listings
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Seeding failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("seeding needs STORE=%s", config.StorePostgres)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	authService := auth.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL)
	user := func(username string) (*models.User, error) {
		u, err := authService.Register(ctx, username, seedPassword)
		if errors.Is(err, models.ErrDuplicate) {
			return database.GetUserByUsername(ctx, username)
		}
		return u, err
	}

	seller, err := user("seller1")
	if err != nil {
		return fmt.Errorf("failed to create seller: %w", err)
	}
	if _, err := user("buyer1"); err != nil {
		return fmt.Errorf("failed to create buyer: %w", err)
	}

	for _, it := range seedItems {
		item, err := database.CreateItem(ctx, seller.ID, it.name, it.price)
		if err != nil {
			return fmt.Errorf("failed to create item %q: %w", it.name, err)
		}
		log.Info("Item listed", "item_id", item.ID, "name", item.Name, "seller", seller.Username)
	}

	log.Info("Seeding complete", "users", []string{"seller1", "buyer1"}, "password", seedPassword)
	return nil
}
