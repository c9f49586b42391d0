package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/platform/config"
)

type pollService interface {
	Create(ctx context.Context, prompt string, choices []string) (*domain.Poll, error)
	Get(ctx context.Context, id string) (*domain.Poll, error)
	GetRaw(ctx context.Context, id string) (domain.Counts, error)
}

type voteCoordinator interface {
	Vote(ctx context.Context, id string, position int) (domain.Counts, error)
}

type viewerRegistry interface {
	Attach(key string, conn *websocket.Conn, snapshot []byte) error
	Detach(key string, conn *websocket.Conn)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	polls    pollService
	votes    voteCoordinator
	registry viewerRegistry

	sessionStore *sessions.CookieStore
	upgrader     *websocket.Upgrader
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, polls pollService, votes voteCoordinator, registry viewerRegistry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		polls:        polls,
		votes:        votes,
		registry:     registry,
		sessionStore: setupSessionStore(cfg),
		upgrader:     newUpgrader(newCheckOrigin(cfg.Origins(), cfg.AppEnv == "development")),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

const voteSessionName = "pollpulse-votes"

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
