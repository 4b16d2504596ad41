package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
	"github.com/Suraj08832/collabstudy/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Direct responses (joined, error) waiting for the write pump.
	sendBufferSize = 64
)

// Close codes in the private range. The close reason carries the
// protocol.Code of the cause so clients can map it back to a sentinel.
const (
	CloseQueueOverflow = 4001
	CloseSuperseded    = 4002
	CloseRevoked       = 4003
)

type Limits struct {
	ReadLimit         int64
	MessagesPerSecond float64
	Burst             int
}

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

// attachment hands a fresh subscription to the write pump together with the
// joined frame that must precede its events.
type attachment struct {
	joined []byte
	sub    *room.Subscription
}

type closeRequest struct {
	code   int
	reason string
}

func NewClient(hub *Hub, conn *websocket.Conn, participantId string, limits Limits, handler MessageHandler) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		participantId: participantId,
		handler:       handler,
		readLimit:     limits.ReadLimit,
		Send:          make(chan []byte, sendBufferSize),
		attachCh:      make(chan attachment, 1),
		closeCh:       make(chan closeRequest, 1),
		done:          make(chan struct{}),
		limiter:       rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), limits.Burst),
	}
}

// Client is a middleman between the websocket connection and the relay.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	participantId string
	handler       MessageHandler
	readLimit     int64
	Send          chan []byte // Buffered channel of outbound responses.
	attachCh      chan attachment
	closeCh       chan closeRequest
	closeOnce     sync.Once
	done          chan struct{}
	limiter       *rate.Limiter

	// sub is owned by the read pump.
	sub *room.Subscription
}

func (c *Client) ParticipantId() string {
	return c.participantId
}

// Kick ends the connection with a close frame. Safe to call more than once
// and from any goroutine.
func (c *Client) Kick(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCh <- closeRequest{code: code, reason: reason}
	})
}

// respond queues a direct response, kicking a client too slow to take it.
func (c *Client) respond(frame []byte) {
	select {
	case c.Send <- frame:
	case <-c.done:
	default:
		log.Warn().Str("module", "api.ws").Str("participant", c.participantId).Msg("response buffer full, closing connection")
		c.Kick(CloseQueueOverflow, protocol.Code(protocol.ErrQueueOverflow))
	}
}

func (c *Client) attach(joined []byte, sub *room.Subscription) {
	// The read pump is the only sender and waits for each hand-off.
	select {
	case c.attachCh <- attachment{joined: joined, sub: sub}:
	case <-c.done:
	}
}

func (c *Client) ReadPump(onClose func(c *Client)) {
	defer func() {
		onClose(c)
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Info().Str("module", "api.ws").Str("participant", c.participantId).Err(err).Msg("ws close error")
			}
			break
		}

		if !c.limiter.Allow() {
			log.Warn().Str("module", "api.ws").Str("participant", c.participantId).Msg("message rate limit exceeded, closing connection")
			c.Kick(websocket.ClosePolicyViolation, "rate limit exceeded")
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	var current *room.Subscription

	for {
		var subC <-chan models.SessionEvent
		if current != nil {
			subC = current.C
		}

		select {
		case message := <-c.Send:
			if !c.write(websocket.TextMessage, message) {
				return
			}

		case a := <-c.attachCh:
			current = a.sub
			if !c.write(websocket.TextMessage, a.joined) {
				return
			}

		case ev, ok := <-subC:
			if !ok {
				cause := current.Err()
				current = nil
				if cause == nil {
					frame, _ := protocol.Encode(protocol.TypeLeft, struct{}{})
					if !c.write(websocket.TextMessage, frame) {
						return
					}
					continue
				}
				c.writeClose(closeCodeFor(cause), protocol.Code(cause))
				return
			}
			frame, err := protocol.Encode(protocol.TypeEvent, ev)
			if err != nil {
				log.Error().Str("module", "api.ws").Err(err).Msg("encode event failed")
				continue
			}
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case req := <-c.closeCh:
			c.writeClose(req.code, req.reason)
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.writeClose(websocket.CloseGoingAway, protocol.Code(protocol.ErrRoomUnavailable))
			return
		}
	}
}

func (c *Client) write(messageType int, message []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, message); err != nil {
		log.Info().Str("module", "api.ws").Str("participant", c.participantId).Err(err).Msg("ws send error")
		return false
	}
	return true
}

func (c *Client) writeClose(code int, reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func closeCodeFor(cause error) int {
	switch {
	case errors.Is(cause, protocol.ErrQueueOverflow):
		return CloseQueueOverflow
	case errors.Is(cause, protocol.ErrSuperseded):
		return CloseSuperseded
	case errors.Is(cause, protocol.ErrRoomUnavailable):
		return websocket.CloseGoingAway
	}
	return websocket.CloseInternalServerErr
}
