package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/edisonsu0623/krunker-game-backend/protocol"
)

const (
	maxFrameSize = 1 << 16
	writeWait    = 10 * time.Second
)

type welcome struct {
	PlayerID string `json:"playerId"`
}

// ServeWS upgrades the request and runs one client session. The connection
// id doubles as the player id.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	playerID := uuid.NewString()
	logger := s.logger.With(slog.String("player_id", playerID))
	client := s.hub.Register(playerID)
	s.metrics.ConnectionOpened()
	logger.Info("client connected", slog.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, conn, client, logger)
	}()

	s.hub.SendTo(playerID, protocol.MsgWelcome, welcome{PlayerID: playerID})
	s.readPump(ctx, conn, playerID, logger)

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.Disconnect(leaveCtx, playerID)
	leaveCancel()
	cancel()
	<-writerDone

	s.metrics.ConnectionClosed()
	logger.Info("client disconnected")
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, playerID string, logger *slog.Logger) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				logger.Warn("read error", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		s.HandleFrame(ctx, playerID, msg)
	}
}

// writePump is the only writer on conn. A failed write closes the
// connection, which in turn ends readPump.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, client *Client, logger *slog.Logger) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-client.Done():
			_ = conn.Close()
			return
		case frame := <-client.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("write failed", slog.String("error", err.Error()))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
