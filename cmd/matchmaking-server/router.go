package main

import (
	"expvar"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"

	"coderacer-matchmaker/internal/logging"
	"coderacer-matchmaker/internal/store"
	"coderacer-matchmaker/internal/ws"
)

func newRouter(st *store.Store, gateway *ws.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// The websocket upgrade bypasses the request logger: hijacked
	// connections confuse its response bookkeeping.
	r.Get("/ws", gateway.Handle)

	r.With(requestLogger()).Get("/healthz", healthHandler(st))
	r.With(requestLogger()).Get("/debug/vars", expvar.Handler().ServeHTTP)

	return r
}

func healthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func requestLogger() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:  slog.LevelInfo,
			Schema: httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
		},
	)
}
