package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
)

const (
	DefaultTolerance         = 2 * time.Second
	DefaultReconcileInterval = time.Second
	DefaultEventBuffer       = 256
	DefaultInitialBackoff    = 250 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
)

type Config struct {
	Dial    DialFunc
	Surface Surface
	// Player may be nil for whiteboard-only clients.
	Player Player
	// Limits mirrors the relay's so invalid events are refused locally.
	Limits protocol.Limits

	// Tolerance is the playback drift allowed before the player is sought.
	Tolerance         time.Duration
	ReconcileInterval time.Duration
	EventBuffer       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	Now               func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Surface == nil {
		c.Surface = &Canvas{}
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// AppliedEvent is one entry of the agent's event stream. Exactly one of
// Snapshot, Event and Err is meaningful.
type AppliedEvent struct {
	Snapshot *models.Snapshot
	Event    *models.SessionEvent
	// Err is a rejection of one of our own events (ClientEventId set) or the
	// reason the connection ended.
	Err           error
	ClientEventId uint32
}

// Agent keeps a local whiteboard and player consistent with one room.
type Agent struct {
	cfg    Config
	events chan AppliedEvent

	mu           sync.Mutex
	conn         Conn
	roomId       string
	self         string
	joined       bool
	watermark    uint64
	strokes      []models.StrokeSegment
	participants map[string]uint64
	pending      map[uint32]models.StrokeSegment
	pendingOrder []uint32
	nextEventId  uint32

	// Playback commands applied to the player but not yet sequenced.
	pendingPlayback map[uint32]struct{}

	viewWidth, viewHeight float64
	color                 string
	width                 float64
	drawing               bool
	hasLast               bool
	last                  models.Point

	playback    models.PlaybackState
	hasPlayback bool
	clockOffset time.Duration

	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewAgent(cfg Config) *Agent {
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:             cfg,
		events:          make(chan AppliedEvent, cfg.EventBuffer),
		participants:    make(map[string]uint64),
		pending:         make(map[uint32]models.StrokeSegment),
		pendingPlayback: make(map[uint32]struct{}),
		viewWidth:       1,
		viewHeight:      1,
		color:           "#000000",
		width:           2,
	}
}

// Events is the stream of applied remote events for the UI.
func (a *Agent) Events() <-chan AppliedEvent {
	return a.events
}

// Join connects and joins roomId once, returning after the snapshot has been
// rendered. The agent then keeps the room in sync, rejoining on its own after
// a dropped connection.
func (a *Agent) Join(ctx context.Context, roomId string) error {
	if roomId == "" {
		return fmt.Errorf("%w: empty room id", protocol.ErrInvalidEvent)
	}
	if a.cfg.Dial == nil {
		return fmt.Errorf("%w: no dialer configured", protocol.ErrRoomUnavailable)
	}
	a.stop()

	conn, err := a.connect(ctx, roomId)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.loopDone = done
	a.mu.Unlock()

	go a.run(sessionCtx, conn, roomId, done)
	return nil
}

// JoinWithRetry is Join with exponential backoff while the relay is
// unreachable or overloaded.
func (a *Agent) JoinWithRetry(ctx context.Context, roomId string) error {
	backoff := a.cfg.InitialBackoff
	for {
		err := a.Join(ctx, roomId)
		if err == nil || !retryable(err) {
			return err
		}
		log.Info().Str("module", "client").Str("roomId", roomId).Dur("backoff", backoff).Err(err).Msg("join failed, retrying")
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, a.cfg.MaxBackoff)
	}
}

// Leave sends an explicit leave and closes the connection once it is flushed.
// Delivery stops at once.
func (a *Agent) Leave() error {
	a.mu.Lock()
	conn, joined := a.conn, a.joined
	a.mu.Unlock()

	if conn == nil || !joined {
		a.stop()
		return protocol.ErrNotJoined
	}
	if frame, err := protocol.Encode(protocol.TypeLeave, struct{}{}); err == nil {
		conn.Send(frame)
	}
	a.stop()
	return nil
}

// Close ends the session without an explicit leave.
func (a *Agent) Close() {
	a.stop()
}

func (a *Agent) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.loopDone
	a.cancel, a.loopDone = nil, nil
	a.joined = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// connect dials, sends the join and applies the snapshot the relay answers
// with. Anything else before the snapshot is a failed join.
func (a *Agent) connect(ctx context.Context, roomId string) (Conn, error) {
	conn, err := a.cfg.Dial(ctx)
	if err != nil {
		if !errors.Is(err, protocol.ErrRoomUnavailable) {
			err = fmt.Errorf("%w: %v", protocol.ErrRoomUnavailable, err)
		}
		return nil, err
	}

	frame, err := protocol.Encode(protocol.TypeJoin, protocol.JoinData{RoomId: roomId})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !conn.Send(frame) {
		conn.Close()
		return nil, protocol.ErrRoomUnavailable
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()

		case frame, ok := <-conn.Frames():
			if !ok {
				cause := conn.Err()
				conn.Close()
				if cause == nil {
					cause = protocol.ErrRoomUnavailable
				}
				return nil, cause
			}

			var msg protocol.Message
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case protocol.TypeJoined:
				var joined protocol.JoinedData
				if err := json.Unmarshal(msg.Data, &joined); err != nil {
					conn.Close()
					return nil, fmt.Errorf("%w: malformed joined frame", protocol.ErrRoomUnavailable)
				}
				a.mu.Lock()
				a.conn = conn
				a.roomId = roomId
				a.applySnapshotLocked(joined.Snapshot)
				a.mu.Unlock()
				return conn, nil

			case protocol.TypeError:
				var data protocol.ErrorData
				json.Unmarshal(msg.Data, &data)
				conn.Close()
				return nil, protocol.FromCode(data.Code, data.Message)
			}
		}
	}
}

func (a *Agent) run(ctx context.Context, conn Conn, roomId string, done chan struct{}) {
	defer close(done)

	for {
		cause := a.receive(ctx, conn)
		// Frames closing only stops the reader; the socket is still ours.
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		a.mu.Lock()
		a.joined = false
		a.emitLocked(AppliedEvent{Err: cause})
		a.mu.Unlock()

		if !retryable(cause) {
			log.Info().Str("module", "client").Str("roomId", roomId).Err(cause).Msg("session ended")
			return
		}

		next, err := a.reconnect(ctx, roomId)
		if err != nil {
			return
		}
		conn = next
	}
}

func (a *Agent) reconnect(ctx context.Context, roomId string) (Conn, error) {
	backoff := a.cfg.InitialBackoff
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		conn, err := a.connect(ctx, roomId)
		if err == nil {
			log.Info().Str("module", "client").Str("roomId", roomId).Msg("rejoined room")
			return conn, nil
		}
		if !retryable(err) {
			a.mu.Lock()
			a.emitLocked(AppliedEvent{Err: err})
			a.mu.Unlock()
			return nil, err
		}
		backoff = min(backoff*2, a.cfg.MaxBackoff)
	}
}

// receive applies frames until the connection ends and returns why.
func (a *Agent) receive(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(a.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-conn.Frames():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return protocol.ErrRoomUnavailable
			}
			a.HandleFrame(frame)

		case <-ticker.C:
			a.Reconcile()
		}
	}
}

// HandleFrame applies one server frame.
func (a *Agent) HandleFrame(frame []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		log.Warn().Str("module", "client").Err(err).Msg("malformed frame")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch msg.Type {
	case protocol.TypeJoined:
		var joined protocol.JoinedData
		if err := json.Unmarshal(msg.Data, &joined); err != nil {
			log.Warn().Str("module", "client").Err(err).Msg("malformed joined frame")
			return
		}
		a.applySnapshotLocked(joined.Snapshot)

	case protocol.TypeEvent:
		var ev models.SessionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Str("module", "client").Err(err).Msg("malformed event frame")
			return
		}
		a.applyEventLocked(ev)

	case protocol.TypeError:
		var data protocol.ErrorData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.Warn().Str("module", "client").Err(err).Msg("malformed error frame")
			return
		}
		a.rejectedLocked(data.ClientEventId, protocol.FromCode(data.Code, data.Message))

	case protocol.TypeLeft:
		a.joined = false
	}
}

func (a *Agent) applySnapshotLocked(snap models.Snapshot) {
	a.joined = true
	a.watermark = snap.Sequence
	a.strokes = append([]models.StrokeSegment(nil), snap.Strokes...)
	a.pending = make(map[uint32]models.StrokeSegment)
	a.pendingOrder = nil
	a.pendingPlayback = make(map[uint32]struct{})
	a.hasLast = false

	a.participants = make(map[string]uint64, len(snap.Participants))
	for _, p := range snap.Participants {
		a.participants[p.Id] = p.JoinSequence
		// Our own join is the event the snapshot was taken at.
		if p.JoinSequence == snap.Sequence {
			a.self = p.Id
		}
	}

	a.cfg.Surface.Clear()
	for _, seg := range a.strokes {
		a.cfg.Surface.DrawSegment(seg)
	}

	a.clockOffset = time.UnixMilli(snap.ServerTime).Sub(a.cfg.Now())
	a.playback = snap.Playback
	a.hasPlayback = true
	a.reconcileLocked()

	a.emitLocked(AppliedEvent{Snapshot: &snap})
}

// applyEventLocked applies ev once; replays at or below the watermark are
// ignored.
func (a *Agent) applyEventLocked(ev models.SessionEvent) bool {
	if ev.Sequence <= a.watermark {
		return false
	}
	if ev.Sequence != a.watermark+1 {
		log.Warn().Str("module", "client").Uint64("watermark", a.watermark).Uint64("seq", ev.Sequence).Msg("sequence gap")
	}
	a.watermark = ev.Sequence

	switch ev.Type {
	case models.EventJoin:
		a.participants[ev.ParticipantId] = ev.Sequence
	case models.EventLeave:
		delete(a.participants, ev.ParticipantId)
	case models.EventDraw:
		a.applyDrawLocked(ev)
	case models.EventClearCanvas:
		a.applyClearLocked()
	case models.EventPlay, models.EventPause, models.EventSeek:
		if ev.ParticipantId == a.self && ev.ClientEventId != 0 {
			delete(a.pendingPlayback, ev.ClientEventId)
		}
		if ev.Playback != nil {
			a.playback = *ev.Playback
			a.hasPlayback = true
			a.reconcileLocked()
		}
	}

	a.emitLocked(AppliedEvent{Event: &ev})
	return true
}

func (a *Agent) rejectedLocked(clientEventId uint32, err error) {
	log.Debug().Str("module", "client").Uint32("clientEventId", clientEventId).Err(err).Msg("event rejected")

	if _, ok := a.pending[clientEventId]; ok && clientEventId != 0 {
		a.dropPendingLocked(clientEventId)
		a.redrawLocked()
	} else {
		// A refused playback command leaves the player ahead of the room.
		delete(a.pendingPlayback, clientEventId)
		a.reconcileLocked()
	}
	a.emitLocked(AppliedEvent{Err: err, ClientEventId: clientEventId})
}

func (a *Agent) emitLocked(ev AppliedEvent) {
	select {
	case a.events <- ev:
	default:
		log.Warn().Str("module", "client").Msg("event stream full, dropping notification")
	}
}

// sendLocked queues a frame. Sends are fire-and-forget.
func (a *Agent) sendLocked(msgType string, data any) error {
	if !a.joined || a.conn == nil {
		return protocol.ErrNotJoined
	}
	frame, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}
	if !a.conn.Send(frame) {
		return protocol.ErrRoomUnavailable
	}
	return nil
}

func (a *Agent) nextEventIdLocked() uint32 {
	a.nextEventId++
	if a.nextEventId == 0 {
		a.nextEventId = 1
	}
	return a.nextEventId
}

func (a *Agent) RoomId() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomId
}

// ParticipantId is our identity as seen by the relay, known after join.
func (a *Agent) ParticipantId() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

func (a *Agent) Joined() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined
}

// LastSequence is the highest sequence applied.
func (a *Agent) LastSequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermark
}

// Participants maps participant ids to their join sequence.
func (a *Agent) Participants() map[string]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]uint64, len(a.participants))
	for id, seq := range a.participants {
		out[id] = seq
	}
	return out
}

func retryable(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, protocol.ErrRoomUnavailable) || errors.Is(err, protocol.ErrQueueOverflow)
}
