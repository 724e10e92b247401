package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/app/chat"
	"chatsync/internal/app/db"
	"chatsync/internal/configs"
	"chatsync/internal/handler"
	"chatsync/internal/pkg/logx"
)

func newServeCommand() *cobra.Command {
	var (
		port        int
		databaseURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend (REST API and websocket hub)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration from environment variables
			cfg, err := configs.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("database-url") {
				cfg.DatabaseDSN = databaseURL
			}

			logx.InitGlobalLogger(cfg.IsDevelopment(), nil)
			logx.Logger().Info().
				Str("environment", cfg.Environment).
				Int("port", cfg.Port).
				Strs("allowed_origins", cfg.AllowedOrigins).
				Bool("postgres", cfg.DatabaseDSN != "").
				Msg("Configuration loaded successfully")

			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres DSN (overrides DATABASE_URL; empty keeps data in memory)")
	return cmd
}

func openStore(ctx context.Context, cfg *configs.AppConfig) (db.Store, error) {
	if cfg.DatabaseDSN == "" {
		logx.Warn("DATABASE_URL is not set, data is kept in memory and lost on exit")
		return db.NewMemoryStore(), nil
	}
	return db.NewPostgresStore(ctx, cfg.DatabaseDSN)
}

func runServer(ctx context.Context, cfg *configs.AppConfig) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	hub := chat.NewHub(cfg.JWTSecret, store)

	router, stopLimiters := handler.Router(&handler.AppDeps{Hub: hub, Config: cfg, Store: store})
	defer stopLimiters()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logx.Info("chatsync backend starting", "addr", "http://localhost"+serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		hub.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
	return nil
}
