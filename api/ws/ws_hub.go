package ws

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/cache"
	"github.com/Suraj08832/collabstudy/service"
)

// Hub tracks the live connections of each participant so that revocations,
// local or published by another instance, can close them.
type Hub struct {
	sessionCache         cache.SessionCache
	OpenCh               chan *Client
	CloseCh              chan *Client
	KickCh               chan string
	participantToClients map[string]map[*Client]struct{}

	// stopped is closed when Run returns; sends after that are dropped.
	stopped chan struct{}
}

func NewHub(sessionCache cache.SessionCache) *Hub {
	return &Hub{
		sessionCache:         sessionCache,
		OpenCh:               make(chan *Client, 256),
		CloseCh:              make(chan *Client, 256),
		KickCh:               make(chan string, 64),
		participantToClients: make(map[string]map[*Client]struct{}),
		stopped:              make(chan struct{}),
	}
}

const maxConnectionsPerParticipant = 3

func (h *Hub) Run(shutdownCtx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.OpenCh:
			clients, ok := h.participantToClients[client.participantId]
			if !ok {
				clients = make(map[*Client]struct{})
				h.participantToClients[client.participantId] = clients
			}

			if len(clients) >= maxConnectionsPerParticipant {
				log.Warn().Str("module", "api.ws").Str("participant", client.participantId).
					Int("max", maxConnectionsPerParticipant).Msg("participant reached max connections")
				client.Kick(websocket.ClosePolicyViolation, "too many connections")
				continue
			}

			clients[client] = struct{}{}

		case client := <-h.CloseCh:
			delete(h.participantToClients[client.participantId], client)
			if len(h.participantToClients[client.participantId]) == 0 {
				delete(h.participantToClients, client.participantId)
			}

		case participantId := <-h.KickCh:
			if clients, ok := h.participantToClients[participantId]; ok {
				for client := range clients {
					client.Kick(CloseRevoked, "revoked")
				}
				log.Info().Str("module", "api.ws").Str("participant", participantId).Int("connections", len(clients)).Msg("participant connections revoked")
			}

		case <-shutdownCtx.Done():
			return
		}
	}
}

// Kick closes every connection of participantId on this instance.
func (h *Hub) Kick(participantId string) {
	select {
	case h.KickCh <- participantId:
	case <-h.stopped:
	}
}

func (h *Hub) register(client *Client) {
	select {
	case h.OpenCh <- client:
	case <-h.stopped:
	}
}

func (h *Hub) unregister(client *Client) {
	select {
	case h.CloseCh <- client:
	case <-h.stopped:
	}
}

// InitSubscriptions listens for revocations published by any instance.
func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	if h.sessionCache == nil {
		return nil
	}

	err := h.sessionCache.Subscribe(shutdownCtx, cache.ChannelParticipantRevoked, func(message []byte) {
		var revokedMsg service.ParticipantRevokedMessage
		if err := json.Unmarshal(message, &revokedMsg); err != nil {
			log.Warn().Str("module", "api.ws").Err(err).Msg("failed to unmarshal participant-revoked message")
			return
		}
		h.Kick(revokedMsg.ParticipantId)
	})
	if err != nil {
		log.Error().Str("module", "api.ws").Err(err).Msg("hub failed to subscribe to participant-revoked")
		return err
	}

	return nil
}
