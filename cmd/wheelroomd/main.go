// wheelroomd is the hub daemon: it owns the shared room tree and serves the
// store contract to wheel clients over websockets.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/config"
	"github.com/wheelroom/wheelroom/internal/hub"
	"github.com/wheelroom/wheelroom/internal/hub/persist"
	"github.com/wheelroom/wheelroom/internal/store/memstore"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memstore.New(clockwork.NewRealClock())
	h := hub.New(st, hub.DefaultConfig())

	if cfg.Postgres.Enabled {
		ps, err := persist.New(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("connect room persistence")
		}
		defer ps.Close()

		rooms, err := ps.LoadRooms(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("load persisted rooms")
		}
		for code, doc := range rooms {
			if err := st.ApplyRemote(memstore.Mutation{Op: "write", Path: "rooms/" + code, Value: doc}); err != nil {
				log.Error().Err(err).Str("room", code).Msg("restore room")
			}
		}
		h.SetPersister(ps)
	}

	if cfg.NATS.Enabled {
		relayCfg := hub.DefaultRelayConfig()
		relayCfg.URL = cfg.NATS.URL
		relayCfg.StreamName = cfg.NATS.Stream
		relayCfg.Subject = cfg.NATS.Subject

		relay, err := hub.NewRelay(ctx, st, relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect relay")
		}
		defer relay.Stop()
		h.SetRelay(relay)

		go func() {
			if err := relay.Start(ctx); err != nil {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	hub.NewHandler(h).RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Bool("nats", cfg.NATS.Enabled).Bool("postgres", cfg.Postgres.Enabled).
			Msg("hub listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()
	log.Info().Msg("hub shutdown complete")
}
