// PriceFinder - chat front-end server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/pricefinder/pricefinder/internal/api"
	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/chat"
	"github.com/pricefinder/pricefinder/internal/config"
	"github.com/pricefinder/pricefinder/internal/identity"
	"github.com/pricefinder/pricefinder/internal/live"
	"github.com/pricefinder/pricefinder/internal/middleware"
	"github.com/pricefinder/pricefinder/internal/session"
	"github.com/pricefinder/pricefinder/internal/store"
	"github.com/pricefinder/pricefinder/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "agent_url", cfg.AgentBaseURL)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	conversationLogger, err := chat.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	hub := live.NewHub()
	registry := session.NewRegistry(repo, session.Options{
		MaxMessages:    cfg.MaxMessages,
		WelcomeMessage: cfg.UI.WelcomeMessage,
	})
	registry.Subscribe(hub.Broadcast)

	agentClient := bridge.NewClient(cfg.AgentBaseURL, cfg.RequestTimeout, bridge.WithLogger(logger))
	controller := chat.NewController(agentClient, registry, cfg.UI, cfg.ShowErrorDetail,
		chat.WithConversationLogger(conversationLogger),
		chat.WithLogger(logger),
	)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, registry, controller, agentClient)
	wsHandler := live.NewHandler(registry, controller, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Agent calls are bounded by RequestTimeout; the write deadline leaves
	// headroom for it. WebSocket connections are hijacked and unaffected.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartTTLWorker(ctx, repo, registry, cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
