package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/api"
	"github.com/Suraj08832/collabstudy/cache"
	"github.com/Suraj08832/collabstudy/cache/redis"
	"github.com/Suraj08832/collabstudy/config"
	"github.com/Suraj08832/collabstudy/discovery"
	"github.com/Suraj08832/collabstudy/mq"
	"github.com/Suraj08832/collabstudy/mq/sqsmq"
	"github.com/Suraj08832/collabstudy/store"
	"github.com/Suraj08832/collabstudy/store/dynamo"
	"github.com/Suraj08832/collabstudy/store/sqlite"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	jwtSecret, err := cfg.Secret()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid jwt secret")
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	sessionStore, closeStore, err := openStore(shutdownCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to create session store")
	}
	defer closeStore()

	// Both are optional; a typed nil must never reach the api.
	var sessionCache cache.SessionCache
	if cfg.Redis.Endpoint != "" {
		redisCache, err := redis.NewRedisSessionCache(shutdownCtx, cfg.DevMode, cfg.Redis.Endpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis cache")
		}
		sessionCache = redisCache
	}

	var roomClosedQueue mq.MessageQueue
	if cfg.SQS.RoomClosedQueue != "" {
		sqsQueue, err := sqsmq.NewSQSMessageQueue(shutdownCtx, cfg.DevMode, cfg.SQS.Endpoint, cfg.SQS.RoomClosedQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create SQS MQ")
		}
		roomClosedQueue = sqsQueue
	}

	collabAPI, err := api.NewCollabAPI(sessionStore, sessionCache, roomClosedQueue, cfg, jwtSecret, shutdownCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create collab api")
	}

	r := api.SetupRouter(cfg.Mode)
	collabAPI.RegisterRoutes(r, cfg.AllowedOrigin, cfg.DevMode)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	if cfg.MDNS.Enabled {
		mdnsServer, err := discovery.Advertise(cfg.MDNS.Instance, cfg.Port)
		if err != nil {
			log.Warn().Err(err).Msg("mdns advertisement failed")
		} else {
			defer mdnsServer.Shutdown()
		}
	}

	<-shutdownCtx.Done()
	log.Info().Msg("shutting down")

	// Close every room first so members see a close frame instead of a reset.
	collabAPI.Service.Relay.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	collabAPI.Wait()
	log.Info().Msg("server exited gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (store.SessionStore, func(), error) {
	switch cfg.Store.Driver {
	case "dynamo":
		dynamoStore, err := dynamo.NewDynamoSessionStore(ctx, cfg.DevMode, cfg.Store.DynamoDBEndpoint, cfg.Store.Table)
		if err != nil {
			return nil, nil, err
		}
		return dynamoStore, func() {}, nil
	case "sqlite":
		sqliteStore, err := sqlite.NewSQLiteSessionStore(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqliteStore, func() { sqliteStore.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
