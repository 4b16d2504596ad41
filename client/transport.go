package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/protocol"
)

// Conn is one connection to a relay. Send never blocks: frames that do not
// fit the writer queue are dropped and reported as not sent.
type Conn interface {
	Send(frame []byte) bool
	// Frames delivers inbound frames and is closed on disconnect.
	Frames() <-chan []byte
	// Err reports why Frames closed.
	Err() error
	Close() error
}

// DialFunc opens a new connection, used again on every rejoin.
type DialFunc func(ctx context.Context) (Conn, error)

const (
	writeQueueSize = 256
	frameQueueSize = 256
	writeWait      = 10 * time.Second
)

type wsConn struct {
	conn   *websocket.Conn
	out    chan []byte
	frames chan []byte
	done   chan struct{}

	// flushed is closed once the write loop has drained and exited.
	flushed chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// WebsocketDialer returns a DialFunc for a relay's websocket endpoint. The
// token is offered as the second subprotocol value.
func WebsocketDialer(url string, token string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{protocol.Subprotocol, token},
		}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrRoomUnavailable, err)
		}
		return newWSConn(conn), nil
	}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:    conn,
		out:     make(chan []byte, writeQueueSize),
		frames:  make(chan []byte, frameQueueSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		log.Warn().Str("module", "client.transport").Msg("writer queue full, dropping frame")
		return false
	}
}

func (c *wsConn) Frames() <-chan []byte {
	return c.frames
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close flushes frames already accepted by Send, then closes the socket with
// a normal closure.
func (c *wsConn) Close() error {
	c.shutdown(nil)
	<-c.flushed
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return c.conn.Close()
}

func (c *wsConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) readLoop() {
	defer close(c.frames)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(closeCause(err))
			return
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	defer close(c.flushed)
	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				c.shutdown(fmt.Errorf("%w: %v", protocol.ErrRoomUnavailable, err))
				c.conn.Close()
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

// drain writes whatever is still queued, stopping at the first failure.
func (c *wsConn) drain() {
	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// closeCause maps a relay close frame back onto the sentinel it carries.
func closeCause(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure {
			return nil
		}
		if closeErr.Text != "" {
			return protocol.FromCode(closeErr.Text, "")
		}
	}
	return fmt.Errorf("%w: %v", protocol.ErrRoomUnavailable, err)
}
