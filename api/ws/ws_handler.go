package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/protocol"
	"github.com/Suraj08832/collabstudy/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
	Limits  Limits
}

func NewHandler(svc *service.Service, hub *Hub, limits Limits) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
		Limits:  limits,
	}
}

// NewWsUpgrader accepts only allowedOrigin, or any origin when it is empty.
func (h *Handler) NewWsUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
		Subprotocols: []string{protocol.Subprotocol},
	}
}

// ServeWS handles websocket requests from the peer. The token travels as the
// second Sec-WebSocket-Protocol value.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	participantId, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "api.ws").Err(err).Msg("failed to upgrade ws connection")
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, participantId, h.Limits, h.HandleWsMessage)
	h.Hub.register(client)

	log.Debug().Str("module", "api.ws").Str("participant", participantId).Msg("connection opened")

	// Start pumps
	go client.ReadPump(h.release)
	go client.WritePump(shutdownCtx)
}

func (h *Handler) release(client *Client) {
	if client.sub != nil {
		h.Service.Relay.Release(client.sub)
		client.sub = nil
	}
	log.Debug().Str("module", "api.ws").Str("participant", client.participantId).Msg("connection closed")
}

// HandleWsMessage runs on the client's read pump, the only caller of the
// relay for that connection.
func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	if messageType != websocket.TextMessage {
		h.respondError(client, fmt.Errorf("%w: binary frames are not supported", protocol.ErrInvalidEvent), 0)
		return
	}

	var msg protocol.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		h.respondError(client, fmt.Errorf("%w: malformed frame", protocol.ErrInvalidEvent), 0)
		return
	}

	switch {
	case msg.Type == protocol.TypeJoin:
		var joinData protocol.JoinData
		if err := json.Unmarshal(msg.Data, &joinData); err != nil {
			h.respondError(client, fmt.Errorf("%w: invalid join data", protocol.ErrInvalidEvent), 0)
			return
		}
		h.handleJoin(client, joinData)

	case msg.Type == protocol.TypeLeave:
		h.handleLeave(client)

	case protocol.IsPublishType(msg.Type):
		var publishData protocol.PublishData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &publishData); err != nil {
				h.respondError(client, fmt.Errorf("%w: invalid %s data", protocol.ErrInvalidEvent, msg.Type), 0)
				return
			}
		}
		h.handlePublish(client, msg.Type, publishData)

	default:
		h.respondError(client, fmt.Errorf("%w: unknown message type %q", protocol.ErrInvalidEvent, msg.Type), 0)
	}
}

func (h *Handler) handleJoin(client *Client, joinData protocol.JoinData) {
	// Switching rooms on one connection is a leave, not a supersession.
	if client.sub != nil {
		h.Service.Relay.Release(client.sub)
		client.sub = nil
	}

	snapshot, sub, err := h.Service.Relay.Connect(client.participantId, joinData.RoomId)
	if err != nil {
		log.Info().Str("module", "api.ws").Str("participant", client.participantId).Str("roomId", joinData.RoomId).Err(err).Msg("join failed")
		h.respondError(client, err, 0)
		return
	}

	frame, err := protocol.Encode(protocol.TypeJoined, protocol.JoinedData{
		Snapshot:         snapshot,
		AssignedSequence: snapshot.Sequence,
	})
	if err != nil {
		log.Error().Str("module", "api.ws").Err(err).Msg("encode joined frame failed")
		h.Service.Relay.Release(sub)
		return
	}

	client.sub = sub
	client.attach(frame, sub)
}

func (h *Handler) handleLeave(client *Client) {
	if client.sub == nil {
		h.respondError(client, protocol.ErrNotJoined, 0)
		return
	}
	// The write pump answers with a left frame once the subscription closes.
	h.Service.Relay.Release(client.sub)
	client.sub = nil
}

func (h *Handler) handlePublish(client *Client, msgType string, publishData protocol.PublishData) {
	if client.sub == nil {
		h.respondError(client, protocol.ErrNotJoined, publishData.ClientEventId)
		return
	}

	ev, err := protocol.EventFromPublish(msgType, publishData)
	if err != nil {
		h.respondError(client, err, publishData.ClientEventId)
		return
	}

	if _, err := h.Service.Relay.Publish(client.participantId, ev); err != nil {
		log.Debug().Str("module", "api.ws").Str("participant", client.participantId).Str("type", msgType).Err(err).Msg("publish rejected")
		h.respondError(client, err, publishData.ClientEventId)
	}
}

func (h *Handler) respondError(client *Client, err error, clientEventId uint32) {
	frame, encodeErr := protocol.EncodeError(err, clientEventId)
	if encodeErr != nil {
		log.Error().Str("module", "api.ws").Err(encodeErr).Msg("encode error frame failed")
		return
	}
	client.respond(frame)
}
