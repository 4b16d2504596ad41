package service

import (
	"errors"
	"time"

	"github.com/Suraj08832/collabstudy/cache"
	"github.com/Suraj08832/collabstudy/mq"
	"github.com/Suraj08832/collabstudy/relay"
	"github.com/Suraj08832/collabstudy/store"
	"github.com/Suraj08832/collabstudy/worker"
)

type Service struct {
	Store        store.SessionStore
	Cache        cache.SessionCache
	MQ           mq.MessageQueue
	EventBatcher *worker.EventBatcher
	Relay        *relay.Server
	JWTSecret    []byte
	DevMode      bool
}

// NewService builds the service and the relay it observes. Cache and MQ are
// optional: without a cache the room directory is local to this instance, and
// without a queue closed rooms are recorded directly in the store.
func NewService(
	store store.SessionStore,
	cache cache.SessionCache,
	mq mq.MessageQueue,
	eventBatcher *worker.EventBatcher,
	relayConfig relay.Config,
	jwtSecret []byte,
	devMode bool,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if len(jwtSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	s := &Service{
		Store:        store,
		Cache:        cache,
		MQ:           mq,
		EventBatcher: eventBatcher,
		JWTSecret:    jwtSecret,
		DevMode:      devMode,
	}
	s.Relay = relay.NewServer(relayConfig, s)
	return s, nil
}

// storeTimeout bounds store calls made from relay hooks.
const storeTimeout = 5 * time.Second
