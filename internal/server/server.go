// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer — it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger, then Server.New creates:
//
//	sqlite.DB (with the credential sealer) ─┐
//	auth.GitHubProvider ────────────────────┼→ service.AuthService → handlers
//	github.Client ──────────────────────────┤
//	auth.TokenService / StateService ───────┘
//
// This is the "composition root" pattern — all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/gitreports/internal/auth"
	"github.com/sakif/gitreports/internal/config"
	"github.com/sakif/gitreports/internal/github"
	"github.com/sakif/gitreports/internal/handler"
	"github.com/sakif/gitreports/internal/middleware"
	sqliteRepo "github.com/sakif/gitreports/internal/repository/sqlite"
	"github.com/sakif/gitreports/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection (db). When the server shuts down,
// we must close it to flush pending writes and release the file lock.
// This is handled in Start() during graceful shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	tokens *auth.TokenService
}

// New creates a new Server with the given config.
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with
// the sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Access tokens are sealed with a key derived from the session secret.
	sealer, err := auth.NewSealer(cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("creating credential sealer: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithSealer(sealer), sqliteRepo.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.SessionSecret)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET /                       → Home / dashboard (HTML, optional auth)
// GET /auth/github/login      → Redirect to GitHub
// GET /auth/github/callback   → OAuth callback (also /github_callback)
// GET /logout                 → Clear the session cookie
// GET /api/me                 → Current user (JSON, auth required)
// GET /api/repositories       → Visible repositories (JSON, auth required)
// GET /healthz                → Liveness probe
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID — assigns unique ID to each request (Logger reads it)
// 2. RealIP — extracts real client IP from proxy headers
// 3. Logger — logs each request with timing info
// 4. Recoverer — catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// The GitHub calls own the network timeout policy.
	httpClient := &http.Client{Timeout: s.config.GitHub.Timeout}

	provider := auth.NewGitHubProvider(
		s.config.GitHub.ClientID,
		s.config.GitHub.ClientSecret,
		s.config.GitHub.CallbackURL,
		auth.WithEndpoint(auth.EndpointFor(s.config.GitHub.OAuthURL)),
		auth.WithHTTPClient(httpClient),
	)
	client, err := github.NewClient(s.config.GitHub.APIURL, s.logger, github.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("creating GitHub client: %w", err)
	}

	states, err := auth.NewStateService(s.config.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating state service: %w", err)
	}

	pages, err := handler.NewPages(s.logger)
	if err != nil {
		return fmt.Errorf("parsing templates: %w", err)
	}

	// DEPENDENCY CHAIN:
	//   provider + client + s.db → AuthService → handlers
	// The handlers never touch the database directly.
	accounts := service.NewAuthService(provider, client, s.db, s.tokens, s.logger)

	authHandler := handler.NewAuthHandler(accounts, provider, states, s.tokens, pages, s.config.CookieSecure, s.logger)
	pageHandler := handler.NewPageHandler(accounts, pages, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(s.tokens))
		r.Get("/", pageHandler.HandleHome)
	})

	s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	s.router.Get("/github_callback", authHandler.HandleGitHubCallback)
	s.router.Get("/logout", authHandler.HandleLogout)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		r.Get("/me", authHandler.HandleMe)
		r.Get("/repositories", authHandler.HandleRepositories)
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests (a login mid-reconciliation) to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	// WriteTimeout leaves room for the GitHub round trips of a callback.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + 2*s.config.GitHub.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("githubAPI", s.config.GitHub.APIURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
