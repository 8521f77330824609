package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/scriptpad-dev/scriptpad-go/logger"
	"github.com/scriptpad-dev/scriptpad-go/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The playground editor is served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/", s.handleInfo)
	e.GET("/healthz", s.handleHealthz)
	e.GET("/api/sessions", s.handleListSessions)
	e.POST("/api/app/:id/open", s.handleOpenApp)
	e.POST("/api/app/:id/scripts", s.handleUpdateScripts)
	e.GET("/api/app/:id/state", s.handleAppState)
	e.POST("/api/app/:id/save", s.handleSaveApp)
	e.DELETE("/api/app/:id", s.handleCloseApp)
	e.GET("/bundle", s.handleBundle)
	e.GET("/live/:session", s.handleLiveSync)
}

func (s *Server) handleInfo(c echo.Context) error {
	info := map[string]any{
		"name":    s.config.Name,
		"version": s.config.Version,
		"type":    "scriptpad-session",
		"capabilities": map[string]any{
			"live_sync":    s.config.Live.Mode,
			"bundle_proxy": true,
		},
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"sessions": s.sessionManager.List()})
}

type openAppRequest struct {
	Scripts []session.Script `json:"scripts"`
}

func (s *Server) handleOpenApp(c echo.Context) error {
	appID := c.Param("id")
	var req openAppRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	hs, err := s.sessionManager.OpenSession(appID, req.Scripts)
	if err != nil {
		logger.Error("Failed to open session", "app_id", appID, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to open session"))
	}
	logger.Info("Session opened", "app_id", appID, "scripts", len(req.Scripts))
	return c.JSON(http.StatusOK, map[string]any{"id": hs.ID, "scripts": len(req.Scripts)})
}

func (s *Server) handleUpdateScripts(c echo.Context) error {
	appID := c.Param("id")
	hs, ok := s.sessionManager.GetSession(appID)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("unknown session"))
	}
	var req openAppRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	hs.setScripts(req.Scripts)
	return c.JSON(http.StatusOK, map[string]any{"id": appID, "scripts": len(req.Scripts)})
}

func (s *Server) handleAppState(c echo.Context) error {
	appID := c.Param("id")
	hs, ok := s.sessionManager.GetSession(appID)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("unknown session"))
	}
	snap := hs.engine.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"id":           snap.SessionID,
		"active_id":    snap.ActiveID,
		"scripts":      snap.Scripts,
		"is_dirty":     snap.IsDirty,
		"has_errors":   snap.HasErrors,
		"error_files":  snap.ErrorFiles,
		"inputs":       snap.Inputs,
		"input_errors": snap.InputErrors,
	})
}

func (s *Server) handleSaveApp(c echo.Context) error {
	appID := c.Param("id")

	// A hosted session saves through its engine: format, batch, clear
	// dirty flags. Without one the payload goes straight to the backend.
	if hs, ok := s.sessionManager.GetSession(appID); ok {
		version, err := hs.engine.Save(c.Request().Context())
		if err != nil {
			logger.Error("Save failed", "app_id", appID, "error", err)
			return c.JSON(http.StatusBadGateway, errorBody(err.Error()))
		}
		return c.JSON(http.StatusOK, map[string]string{"version": version})
	}

	var req session.SaveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	req.ID = appID
	result, err := s.sessionManager.backend.Save(c.Request().Context(), req)
	if err != nil {
		logger.Error("Save failed", "app_id", appID, "error", err)
		return c.JSON(http.StatusBadGateway, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]string{"version": result.Version})
}

func (s *Server) handleCloseApp(c echo.Context) error {
	s.sessionManager.RemoveSession(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleBundle(c echo.Context) error {
	importURL := c.QueryParam("x")
	if importURL == "" {
		return c.JSON(http.StatusBadRequest, errorBody("missing x query parameter"))
	}
	files, err := s.bundler.Fetch(c.Request().Context(), importURL)
	if err != nil {
		logger.Warn("Bundle fetch failed", "url", importURL, "error", err)
		return c.JSON(http.StatusBadGateway, errorBody("bundle fetch failed"))
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) handleLiveSync(c echo.Context) error {
	appID := c.Param("session")
	hs, ok := s.sessionManager.GetSession(appID)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("unknown session"))
	}
	if hs.collab == nil {
		return c.JSON(http.StatusConflict, errorBody("session is not in collab mode"))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", "app_id", appID, "error", err)
		return nil
	}
	defer conn.Close()

	interval := time.Duration(s.config.Live.SyncIntervalSeconds) * time.Second
	if err := hs.collab.Sync(c.Request().Context(), conn, logger.Default(), interval); err != nil {
		logger.Debug("Live sync ended", "app_id", appID, "error", err)
	}
	return nil
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
