package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/vulnshop/internal/agent"
	"github.com/ashureev/vulnshop/internal/api"
	"github.com/ashureev/vulnshop/internal/config"
	"github.com/ashureev/vulnshop/internal/flags"
	"github.com/ashureev/vulnshop/internal/healthcheck"
	"github.com/ashureev/vulnshop/internal/identity"
	"github.com/ashureev/vulnshop/internal/middleware"
	"github.com/ashureev/vulnshop/internal/store"
	"github.com/ashureev/vulnshop/web"
)

func runServe(parent context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := slog.Default()
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer closeStore(repo)

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	seeded, err := repo.Seed(parent, cfg.ResetOnStart())
	if err != nil {
		return fmt.Errorf("seeding database: %w", err)
	}
	slog.Info("Database ready",
		"path", cfg.DBPath,
		"seeded", seeded.Seeded,
		"users", seeded.Users,
		"documents", seeded.Documents)

	if err := os.MkdirAll(cfg.FileRoot, 0755); err != nil {
		return fmt.Errorf("creating file root %s: %w", cfg.FileRoot, err)
	}

	// Domain services.
	sessions := identity.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	awarder := flags.NewAwarder(repo, cfg.FlagSecret)
	remoteClient := &http.Client{Timeout: cfg.Agent.RemoteToolTimeout}

	model := agent.NewOllamaClient(agent.OllamaConfig{
		Host:        cfg.Model.Host,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
	}, logger)
	chatService := agent.NewService(
		model,
		agent.NewToolbox(repo, cfg.FileRoot, remoteClient),
		agent.NewExternalLoader(repo, remoteClient),
		awarder,
		agent.Config{SoftMaxToolCalls: cfg.Agent.SoftMaxToolCalls},
		logger,
	)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Handlers.
	shopHandler := api.NewHandler(repo, sessions, awarder, strings.HasPrefix(cfg.FrontendURL, "https://"))
	chatHandler := agent.NewHandler(chatService, conversationLogger, agent.HandlerConfig{
		RateLimit:     cfg.Chat.RateLimit,
		RateWindow:    cfg.Chat.RateWindow,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	defer chatHandler.Close()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.FrontendURL}))
	r.Use(identity.Middleware(sessions, repo))

	shopHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	r.Handle("/*", web.SPAHandler())

	// SSE and websocket chats wait on the model, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity.StartSweeper(ctx, sessions, identity.DefaultSweepInterval)
	if cfg.GRPCHealthAddr != "" {
		go func() {
			if err := healthcheck.ListenAndServe(ctx, cfg.GRPCHealthAddr, repo, logger); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	printBanner(cfg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func printBanner(cfg *config.Config) {
	banner := color.New(color.FgRed, color.Bold)
	banner.Println("Vulnerable AI Demo Shop")
	fmt.Printf("   Shop:     http://localhost:%s\n", cfg.Port)
	fmt.Printf("   Database: %s\n", cfg.DBPath)
	fmt.Printf("   Model:    %s @ %s\n", cfg.Model.Name, cfg.Model.Host)
	if cfg.GRPCHealthAddr != "" {
		fmt.Printf("   Health:   grpc://%s\n", cfg.GRPCHealthAddr)
	}
	color.New(color.FgYellow).Println("   Intentionally insecure. Do not expose to untrusted networks.")
	fmt.Println()
}

func closeStore(repo store.Repository) {
	if err := repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}
