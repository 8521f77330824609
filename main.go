package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/scriptpad-dev/scriptpad-go/config"
	"github.com/scriptpad-dev/scriptpad-go/logger"
	"github.com/scriptpad-dev/scriptpad-go/session"
	"github.com/scriptpad-dev/scriptpad-go/transport/http"
	"github.com/scriptpad-dev/scriptpad-go/watcher"
)

const workspaceSessionID = "workspace"

func main() {
	// A missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	configPath, err := config.ResolveConfigPath()
	if err != nil {
		log.Fatalf("Failed to resolve config path: %+v", err)
	}
	if err := config.EnsureDefaultConfig(configPath); err != nil {
		log.Fatalf("Failed to write default configuration: %+v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %+v", err)
	}

	if os.Getenv("SCRIPTPAD_DEBUG") == "true" {
		cfg.Server.Debug = true
		log.Println("Debug mode enabled via SCRIPTPAD_DEBUG environment variable")
	}

	if err := logger.Init(logger.GetLevelFromString(cfg.Logging.Level), logger.Format(cfg.Logging.Format), cfg.Logging.Path); err != nil {
		log.Fatalf("Failed to initialize logger: %+v", err)
	}

	server, err := http.NewServer(cfg)
	if err != nil {
		logger.Error("Failed to build server", "error", err)
		os.Exit(1)
	}

	if cfg.Workspace.Path != "" && cfg.Workspace.Watch {
		if err := startWorkspaceWatcher(cfg, server); err != nil {
			logger.Error("Workspace watcher failed to start", "path", cfg.Workspace.Path, "error", err)
			os.Exit(1)
		}
	}

	if err := server.Start(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// startWorkspaceWatcher hosts a session backed by local files and keeps
// it reconciled as the directory changes.
func startWorkspaceWatcher(cfg *config.Config, server *http.Server) error {
	scripts, err := watcher.LoadScripts(cfg.Workspace.Path)
	if err != nil {
		return err
	}
	if _, err := server.GetSessionManager().OpenSession(workspaceSessionID, scripts); err != nil {
		return err
	}

	sink := sessionSink{manager: server.GetSessionManager()}
	w, err := watcher.New(cfg.Workspace.Path, sink, logger.Default(),
		time.Duration(cfg.Workspace.DebounceMillis)*time.Millisecond)
	if err != nil {
		return err
	}

	logger.Info("Workspace watcher started", "path", cfg.Workspace.Path, "scripts", len(scripts))
	go func() {
		if err := w.Run(context.Background()); err != nil && err != context.Canceled {
			logger.Error("Workspace watcher stopped", "error", err)
		}
	}()
	return nil
}

type sessionSink struct {
	manager *http.SessionManager
}

func (s sessionSink) OnScriptsChanged(scripts []session.Script) {
	if !s.manager.UpdateScripts(workspaceSessionID, scripts) {
		logger.Warn("Workspace session missing; dropping script update")
	}
}
