package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"room-chat/internal/config"
	"room-chat/internal/database"
	"room-chat/internal/identity"
	"room-chat/internal/media"
	"room-chat/internal/presence"
	"room-chat/internal/room"
	"room-chat/internal/session"
	"room-chat/internal/token"
	transporthttp "room-chat/internal/transport/http"
	transportws "room-chat/internal/transport/websocket"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("ROOMCHAT_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.TokenSecret == "" {
		return errors.New("token_secret must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoCfg := database.DefaultMongoConfig()
	mongoCfg.URI = cfg.MongoURI
	mongoCfg.Database = cfg.MongoDatabase

	db, err := database.NewMongoDB(mongoCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateIndexes(); err != nil {
		return err
	}

	directory, err := identity.Open(cfg.IdentityDBPath)
	if err != nil {
		return err
	}

	blobs, err := media.NewDiskStore(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	issuer, err := token.NewIssuer(cfg.TokenSecret)
	if err != nil {
		return err
	}

	repo := room.NewMongoRepository(db)
	gateway := transportws.NewGateway(repo,
		func(userID string) identity.Store { return directory.Device(userID) },
		session.WithTrackerOptions(presence.WithInterval(cfg.HeartbeatInterval)),
	)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		Issuer: issuer,
		Blobs:  blobs,
		Health: db.HealthCheck,
		Socket: gateway.Handle,
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
