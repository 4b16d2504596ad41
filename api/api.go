package api

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/api/rest"
	"github.com/Suraj08832/collabstudy/api/ws"
	"github.com/Suraj08832/collabstudy/cache"
	"github.com/Suraj08832/collabstudy/config"
	"github.com/Suraj08832/collabstudy/mq"
	"github.com/Suraj08832/collabstudy/protocol"
	"github.com/Suraj08832/collabstudy/relay"
	"github.com/Suraj08832/collabstudy/service"
	"github.com/Suraj08832/collabstudy/store"
	"github.com/Suraj08832/collabstudy/worker"
)

// directorySyncInterval keeps live rooms well inside the directory's
// staleness window.
const directorySyncInterval = time.Minute

type CollabAPI struct {
	Service     *service.Service
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
	workers     sync.WaitGroup
}

// NewCollabAPI starts the background workers and builds the handlers. Cache
// and roomClosedQueue may be nil.
func NewCollabAPI(
	sessionStore store.SessionStore,
	sessionCache cache.SessionCache,
	roomClosedQueue mq.MessageQueue,
	cfg *config.Config,
	jwtSecret []byte,
	shutdownCtx context.Context,
) (*CollabAPI, error) {
	collabAPI := &CollabAPI{shutdownCtx: shutdownCtx}

	wsHub := ws.NewHub(sessionCache)
	if err := wsHub.InitSubscriptions(shutdownCtx); err != nil {
		log.Error().Str("module", "api").Err(err).Msg("failed to start ws hub subscriptions")
		return nil, err
	}
	go wsHub.Run(shutdownCtx)

	statsBatcher := worker.NewStatsBatcher(sessionStore, cfg.Stats.FlushIntervalMs)
	collabAPI.goWorker(statsBatcher.Run)

	eventBatcher := worker.NewEventBatcher(sessionStore, cfg.Archive.BatchIntervalMs, statsBatcher)
	collabAPI.goWorker(eventBatcher.Run)

	if roomClosedQueue != nil {
		policy, err := worker.ParseRetentionPolicy(cfg.Retention.Policy)
		if err != nil {
			return nil, err
		}
		mqConsumer := worker.NewMQConsumer(roomClosedQueue, sessionStore, policy)
		collabAPI.goWorker(mqConsumer.Run)
	}

	svc, err := service.NewService(
		sessionStore,
		sessionCache,
		roomClosedQueue,
		eventBatcher,
		relay.Config{
			QueueSize: cfg.Relay.QueueSize,
			Limits:    protocol.Limits{MaxStrokeWidth: cfg.Relay.MaxStrokeWidth},
		},
		jwtSecret,
		cfg.DevMode,
	)
	if err != nil {
		log.Error().Str("module", "api").Err(err).Msg("failed to create service")
		return nil, err
	}
	go svc.RunDirectorySync(shutdownCtx, directorySyncInterval)

	collabAPI.Service = svc
	collabAPI.restHandler = rest.NewHandler(svc, wsHub)
	collabAPI.wsHandler = ws.NewHandler(svc, wsHub, ws.Limits{
		ReadLimit:         cfg.WS.ReadLimit,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		Burst:             cfg.WS.Burst,
	})
	return collabAPI, nil
}

func (collabAPI *CollabAPI) goWorker(run func(ctx context.Context)) {
	collabAPI.workers.Add(1)
	go func() {
		defer collabAPI.workers.Done()
		run(collabAPI.shutdownCtx)
	}()
}

// Wait blocks until every worker has flushed after shutdown.
func (collabAPI *CollabAPI) Wait() {
	collabAPI.workers.Wait()
}

// SetupRouter builds the gin engine for mode ("debug" or "release").
func SetupRouter(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

func (collabAPI *CollabAPI) RegisterRoutes(r *gin.Engine, allowedOrigin string, devMode bool) {
	// Health check endpoint (no auth required)
	r.GET("/health", collabAPI.restHandler.HandleHealth)

	api := r.Group("/api")
	api.GET("/rooms", collabAPI.restHandler.HandleListRooms)
	api.GET("/rooms/:roomId/snapshot", collabAPI.restHandler.HandleSnapshot)
	api.GET("/rooms/:roomId/export.pdf", collabAPI.restHandler.HandleExportPDF)
	api.GET("/rooms/:roomId/stats", collabAPI.restHandler.HandleStats)
	api.GET("/rooms/:roomId/events", collabAPI.restHandler.HandleArchivedEvents)
	api.POST("/participants/me/revoke", collabAPI.restHandler.HandleRevoke)
	if devMode {
		api.POST("/token", collabAPI.restHandler.HandleDevToken)
	}

	wsUpgrader := collabAPI.wsHandler.NewWsUpgrader(allowedOrigin)
	api.GET("/ws", func(c *gin.Context) {
		collabAPI.wsHandler.ServeWS(wsUpgrader, c.Writer, c.Request, collabAPI.shutdownCtx)
	})

	log.Info().Str("module", "api").Bool("devMode", devMode).Msg("routes registered")
}
