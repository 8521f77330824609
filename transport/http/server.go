package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/scriptpad-dev/scriptpad-go/bundle"
	"github.com/scriptpad-dev/scriptpad-go/config"
	"github.com/scriptpad-dev/scriptpad-go/logger"
	"github.com/scriptpad-dev/scriptpad-go/session"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	cleanupInterval    = 5 * time.Minute
)

type Server struct {
	config         *config.Config
	sessionManager *SessionManager
	bundler        *bundle.Client
	echo           *echo.Echo
}

func NewServer(cfg *config.Config) (*Server, error) {
	bundler, err := bundle.NewClient(
		cfg.Bundler.BaseURL,
		time.Duration(cfg.Bundler.TimeoutSeconds)*time.Second,
		cfg.Bundler.CacheEntries,
		logger.Default(),
	)
	if err != nil {
		return nil, err
	}
	return &Server{
		config:         cfg,
		sessionManager: NewSessionManager(cfg, bundler, HashBackend{}),
		bundler:        bundler,
		echo:           echo.New(),
	}, nil
}

// NewServerWithBackend swaps the default hash backend, for deployments
// that persist saves somewhere real.
func NewServerWithBackend(cfg *config.Config, backend session.SaveBackend) (*Server, error) {
	s, err := NewServer(cfg)
	if err != nil {
		return nil, err
	}
	s.sessionManager.backend = backend
	return s, nil
}

func (s *Server) Start() error {
	go s.startCleanupGoroutine()
	s.setupEcho()
	logger.Info("Session service starting to listen",
		"host", s.config.Server.Host, "port", s.config.Server.Port, "live_mode", s.config.Live.Mode)
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.echo.Start(addr)
}

func (s *Server) setupEcho() {
	s.echo.HideBanner = true
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	RegisterRoutes(s.echo, s)
}

func (s *Server) startCleanupGoroutine() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.sessionManager.CleanupSessions(sessionIdleTimeout)
	}
}

func (s *Server) GetSessionManager() *SessionManager {
	return s.sessionManager
}

func (s *Server) GetConfig() *config.Config {
	return s.config
}
