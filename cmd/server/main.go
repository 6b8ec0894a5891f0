package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/tradechat/internal/api"
	"github.com/xtrntr/tradechat/internal/auth"
	"github.com/xtrntr/tradechat/internal/config"
	"github.com/xtrntr/tradechat/internal/db"
	"github.com/xtrntr/tradechat/internal/memstore"
	"github.com/xtrntr/tradechat/internal/negotiation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// store is what the server needs from a storage backend
type store interface {
	negotiation.Store
	auth.UserStore
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("Using in-memory store, data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		log.Info("Closing database pool...")
		_ = database.Close(ctx)
	}
	if err := database.Ping(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("database unreachable: %w", err)
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx); err != nil {
			closeDB()
			return nil, nil, err
		}
		log.Info("Schema applied")
	}
	return database, closeDB, nil
}

// run wires the components and serves until SIGINT/SIGTERM
func run() error {
	// Configuration & logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("store opening failed: %w", err)
	}
	defer closeStore()

	// Services
	authService := auth.NewAuthService(st, cfg.JWTSecret, cfg.TokenTTL)
	service := negotiation.NewService(st, log)
	handler := api.NewHandler(service, authService, log)
	handler.PollInterval = cfg.PollInterval

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", srv.Addr, "store", cfg.Store,
			"poll_interval", cfg.PollInterval)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}
