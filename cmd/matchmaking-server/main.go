package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"coderacer-matchmaker/internal/auth"
	"coderacer-matchmaker/internal/catalog"
	"coderacer-matchmaker/internal/config"
	"coderacer-matchmaker/internal/logging"
	"coderacer-matchmaker/internal/matching"
	"coderacer-matchmaker/internal/store"
	"coderacer-matchmaker/internal/ws"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("load server config failed")
	}

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	if err := st.EnsureDefaultProblems(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("ensure default problems failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.New(st, cfg.CatalogTTL)
	coord := matching.NewCoordinator(ctx, st, cat)
	coord.StartJanitor(ctx, cfg.JanitorInterval, cfg.HeartbeatTimeout)
	matching.NewEngine(coord, cfg.ScanInterval).Start(ctx)
	matching.NewBroadcaster(coord, cfg.BroadcastInterval).Start(ctx)

	gateway := ws.NewServer(coord, auth.NewVerifier(cfg.JWTSecret), ws.Options{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		MaxMessageBytes:  cfg.MaxMessageBytes,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(st, gateway),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("matchmaking server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
