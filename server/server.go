package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/edisonsu0623/krunker-game-backend/domain/room"
	"github.com/edisonsu0623/krunker-game-backend/telemetry"
)

const tracerName = "github.com/edisonsu0623/krunker-game-backend/server"

// Server adapts client connections and monitoring requests onto the room
// coordinator.
type Server struct {
	Rooms room.Service

	hub      *Hub
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	pingInterval time.Duration
	staticDir    string
}

// Options configures a Server. A nil TracerProvider means the global one.
type Options struct {
	Logger         *slog.Logger
	Metrics        *telemetry.Metrics
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	StaticDir      string
}

func New(rooms room.Service, hub *Hub, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 || pingInterval >= readTimeout {
		pingInterval = readTimeout * 9 / 10
	}
	return &Server{
		Rooms:    rooms,
		hub:      hub,
		logger:   logger.With(slog.String("component", "server")),
		metrics:  opts.Metrics,
		gatherer: gatherer,
		tracer:   tp.Tracer(tracerName),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client is served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		readTimeout:  readTimeout,
		pingInterval: pingInterval,
		staticDir:    opts.StaticDir,
	}
}

// Disconnect tears down a player's room membership and client queue. It is
// idempotent, so duplicate close signals are harmless.
func (s *Server) Disconnect(ctx context.Context, playerID string) {
	res, err := s.Rooms.Leave(ctx, playerID)
	switch {
	case err == nil:
		s.logger.Debug("player removed on disconnect",
			slog.String("player_id", playerID),
			slog.String("room_id", res.RoomID),
		)
	case room.IsBenign(err):
	case errors.Is(err, room.ErrStopped), errors.Is(err, context.Canceled):
	default:
		s.logger.Error("leave on disconnect",
			slog.String("player_id", playerID),
			slog.String("error", err.Error()),
		)
	}
	s.hub.Unregister(playerID)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
