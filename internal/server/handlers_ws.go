package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollpulse/internal/broadcast"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/platform/correlation"
)

const (
	closeWriteWait = time.Second
	maxViewerFrame = 512
	invalidIDFrame = "invalid id"
)

func newUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

func (s *Server) registerSocketRoutes() {
	s.echo.GET("/ws/polls/"+broadcast.NewPollsKey, s.handleNewPollsSocket)
	s.echo.GET("/ws/polls/:id", s.handlePollSocket)
}

// handlePollSocket sends the current counts on attach and every published
// payload afterwards. An unknown poll gets the text frame "invalid id" and
// a close.
func (s *Server) handlePollSocket(c echo.Context) error {
	id := c.Param("id")
	ctx := correlation.WithPollID(c.Request().Context(), id)

	counts, lookupErr := s.polls.GetRaw(ctx, id)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		slog.DebugContext(ctx, "WebSocket upgrade failed", "error", err)
		return nil
	}

	if errors.Is(lookupErr, domain.ErrPollNotFound) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(invalidIDFrame))
		closeConn(conn, websocket.CloseNormalClosure, invalidIDFrame)
		return nil
	}
	if lookupErr != nil {
		slog.ErrorContext(ctx, "Failed to load poll for viewer", "error", lookupErr)
		closeConn(conn, websocket.CloseTryAgainLater, "poll unavailable")
		return nil
	}

	snapshot, err := json.Marshal(counts)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode counts snapshot", "error", err)
		closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}

	s.serveViewer(ctx, id, conn, snapshot)
	return nil
}

func (s *Server) handleNewPollsSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "error", err)
		return nil
	}

	s.serveViewer(c.Request().Context(), broadcast.NewPollsKey, conn, nil)
	return nil
}

// serveViewer attaches conn to the registry and reads from it until the
// client goes away or the registry closes it.
func (s *Server) serveViewer(ctx context.Context, key string, conn *websocket.Conn, snapshot []byte) {
	if err := s.registry.Attach(key, conn, snapshot); err != nil {
		slog.WarnContext(ctx, "Failed to attach viewer", "error", err)
		code := websocket.CloseTryAgainLater
		if errors.Is(err, broadcast.ErrRegistryStopped) {
			code = websocket.CloseGoingAway
		}
		closeConn(conn, code, "unavailable")
		return
	}
	defer s.registry.Detach(key, conn)

	conn.SetReadLimit(maxViewerFrame)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	_ = conn.Close()
}
