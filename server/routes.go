package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiTimeout = 5 * time.Second

// Handler returns the HTTP surface: the websocket endpoint, the JSON and
// connect monitoring APIs, Prometheus metrics and, optionally, the static
// browser client.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		r.Use(cors)
		r.Get("/api/rooms", s.handleRooms)
		r.Get("/api/status", s.handleStatus)
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	var opts []connect.HandlerOption
	if interceptor, err := validate.NewInterceptor(); err != nil {
		s.logger.Error("error creating interceptor", slog.String("error", err.Error()))
	} else {
		opts = append(opts, connect.WithInterceptors(interceptor))
	}
	prefix, monitor := NewMonitorHandler(s, opts...)
	r.Handle(prefix+"*", monitor)

	if s.staticDir != "" {
		r.Handle("/*", staticHandler(s.staticDir))
	}
	return r
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.Rooms.ListRooms(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Rooms.Status(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusFields(st))
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if ctx.Err() == nil {
		s.logger.Error("api request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusServiceUnavailable, errorMessage{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// staticHandler serves the browser client, falling back to index.html for
// paths that are not files so client-side routes resolve.
func staticHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
