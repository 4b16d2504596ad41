package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suraj08832/collabstudy/client"
	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
)

const track = "dQw4w9WgXcQ"

type fakeConn struct {
	frames chan []byte
	once   sync.Once
	onSend func()

	mu     sync.Mutex
	sent   []protocol.Message
	err    error
	closed bool
	closes int
}

func newFakeConn(preload ...[]byte) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, 64)}
	for _, f := range preload {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) Send(frame []byte) bool {
	var msg protocol.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		panic(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.sent = append(c.sent, msg)
	c.mu.Unlock()

	if c.onSend != nil {
		c.onSend()
	}
	return true
}

func (c *fakeConn) Frames() <-chan []byte { return c.frames }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.drop(nil)
	return nil
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.closed = true
		c.mu.Unlock()
		close(c.frames)
	})
}

func (c *fakeConn) Sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

func (c *fakeConn) last(t *testing.T) (protocol.Message, protocol.PublishData) {
	t.Helper()
	sent := c.Sent()
	require.NotEmpty(t, sent)
	msg := sent[len(sent)-1]
	var data protocol.PublishData
	if len(msg.Data) > 0 {
		require.NoError(t, json.Unmarshal(msg.Data, &data))
	}
	return msg, data
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustEncode(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	frame, err := protocol.Encode(msgType, data)
	require.NoError(t, err)
	return frame
}

func joinedFrame(t *testing.T, snap models.Snapshot) []byte {
	return mustEncode(t, protocol.TypeJoined, protocol.JoinedData{Snapshot: snap, AssignedSequence: snap.Sequence})
}

func eventFrame(t *testing.T, ev models.SessionEvent) []byte {
	return mustEncode(t, protocol.TypeEvent, ev)
}

func seg(x float64, pid string, seq uint64) models.StrokeSegment {
	return models.StrokeSegment{
		ParticipantId: pid,
		From:          models.Point{X: x, Y: 0.1},
		To:            models.Point{X: x, Y: 0.2},
		Color:         "#000000",
		Width:         2,
		Sequence:      seq,
	}
}

func drawEvent(s models.StrokeSegment, clientEventId uint32) models.SessionEvent {
	return models.SessionEvent{
		RoomId:        "r1",
		ParticipantId: s.ParticipantId,
		Sequence:      s.Sequence,
		Type:          models.EventDraw,
		ClientEventId: clientEventId,
		Segment:       &s,
	}
}

// baseSnapshot has alice join at 1, draw at 2, and us join at 3.
func baseSnapshot(now time.Time) models.Snapshot {
	return models.Snapshot{
		RoomId:   "r1",
		Epoch:    "e1",
		Sequence: 3,
		Strokes:  []models.StrokeSegment{seg(0.5, "alice", 2)},
		Participants: []models.Participant{
			{Id: "alice", JoinSequence: 1},
			{Id: "me", JoinSequence: 3},
		},
		ServerTime: now.UnixMilli(),
	}
}

type harness struct {
	agent  *client.Agent
	conn   *fakeConn
	canvas *client.Canvas
	player *client.MemoryPlayer
	clock  *clock
}

func join(t *testing.T, snap func(now time.Time) models.Snapshot) *harness {
	t.Helper()
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	h := &harness{
		canvas: &client.Canvas{},
		player: client.NewMemoryPlayer(clk.Now),
		clock:  clk,
	}
	h.conn = newFakeConn(joinedFrame(t, snap(clk.Now())))
	h.agent = client.NewAgent(client.Config{
		Dial:              func(ctx context.Context) (client.Conn, error) { return h.conn, nil },
		Surface:           h.canvas,
		Player:            h.player,
		Now:               clk.Now,
		ReconcileInterval: time.Hour,
	})
	require.NoError(t, h.agent.Join(context.Background(), "r1"))
	t.Cleanup(h.agent.Close)
	return h
}

func drain(a *client.Agent) []client.AppliedEvent {
	var out []client.AppliedEvent
	for {
		select {
		case ev := <-a.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestJoin_RendersSnapshot(t *testing.T) {
	h := join(t, baseSnapshot)

	sent := h.conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeJoin, sent[0].Type)

	assert.True(t, h.agent.Joined())
	assert.Equal(t, "me", h.agent.ParticipantId())
	assert.Equal(t, uint64(3), h.agent.LastSequence())
	assert.Equal(t, []models.StrokeSegment{seg(0.5, "alice", 2)}, h.canvas.Segments())
	assert.Equal(t, map[string]uint64{"alice": 1, "me": 3}, h.agent.Participants())

	events := drain(h.agent)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Snapshot)
	assert.Equal(t, uint64(3), events[0].Snapshot.Sequence)
}

func TestJoin_Failures(t *testing.T) {
	t.Run("Dial Error", func(t *testing.T) {
		agent := client.NewAgent(client.Config{
			Dial: func(ctx context.Context) (client.Conn, error) { return nil, errors.New("connection refused") },
		})
		err := agent.Join(context.Background(), "r1")
		assert.ErrorIs(t, err, protocol.ErrRoomUnavailable)
		assert.False(t, agent.Joined())
	})

	t.Run("Error Frame", func(t *testing.T) {
		frame, err := protocol.EncodeError(protocol.ErrInvalidEvent, 0)
		require.NoError(t, err)
		conn := newFakeConn(frame)
		agent := client.NewAgent(client.Config{
			Dial: func(ctx context.Context) (client.Conn, error) { return conn, nil },
		})
		err = agent.Join(context.Background(), "r1")
		assert.ErrorIs(t, err, protocol.ErrInvalidEvent)
	})

	t.Run("Closed Before Joined", func(t *testing.T) {
		conn := newFakeConn()
		conn.onSend = func() { conn.drop(protocol.ErrSuperseded) }
		agent := client.NewAgent(client.Config{
			Dial: func(ctx context.Context) (client.Conn, error) { return conn, nil },
		})
		err := agent.Join(context.Background(), "r1")
		assert.ErrorIs(t, err, protocol.ErrSuperseded)
		assert.Equal(t, 1, conn.Closes())
	})

	t.Run("Empty Room", func(t *testing.T) {
		agent := client.NewAgent(client.Config{})
		assert.ErrorIs(t, agent.Join(context.Background(), ""), protocol.ErrInvalidEvent)
	})
}

func TestHandleFrame_DiscardsDuplicates(t *testing.T) {
	h := join(t, baseSnapshot)
	drain(h.agent)

	// At or below the snapshot sequence.
	h.agent.HandleFrame(eventFrame(t, drawEvent(seg(0.5, "alice", 2), 0)))
	assert.Len(t, h.canvas.Segments(), 1)

	next := drawEvent(seg(0.7, "alice", 4), 0)
	h.agent.HandleFrame(eventFrame(t, next))
	h.agent.HandleFrame(eventFrame(t, next))

	assert.Len(t, h.canvas.Segments(), 2)
	assert.Len(t, h.agent.Strokes(), 2)
	assert.Equal(t, uint64(4), h.agent.LastSequence())
	assert.Len(t, drain(h.agent), 1)
}

func TestHandleFrame_TracksParticipants(t *testing.T) {
	h := join(t, baseSnapshot)

	h.agent.HandleFrame(eventFrame(t, models.SessionEvent{RoomId: "r1", ParticipantId: "bob", Sequence: 4, Type: models.EventJoin}))
	h.agent.HandleFrame(eventFrame(t, models.SessionEvent{RoomId: "r1", ParticipantId: "alice", Sequence: 5, Type: models.EventLeave}))

	assert.Equal(t, map[string]uint64{"bob": 4, "me": 3}, h.agent.Participants())
}

func TestEmitStroke_OwnEchoIsNotRedrawn(t *testing.T) {
	h := join(t, baseSnapshot)
	h.agent.SetBrush("#FF0000", 4)

	from, to := models.Point{X: 0.1, Y: 0.1}, models.Point{X: 0.3, Y: 0.3}
	require.NoError(t, h.agent.EmitStroke(from, to))

	msg, data := h.conn.last(t)
	assert.Equal(t, protocol.TypeDraw, msg.Type)
	assert.Equal(t, uint32(1), data.ClientEventId)
	assert.Equal(t, "#FF0000", data.Color)
	assert.Equal(t, 4.0, data.Width)
	require.Len(t, h.canvas.Segments(), 2)
	assert.Equal(t, 1, h.agent.PendingStrokes())

	echo := models.StrokeSegment{ParticipantId: "me", From: from, To: to, Color: "#FF0000", Width: 4, Sequence: 4}
	h.agent.HandleFrame(eventFrame(t, drawEvent(echo, 1)))

	assert.Len(t, h.canvas.Segments(), 2)
	assert.Equal(t, 0, h.agent.PendingStrokes())
	assert.Equal(t, echo, h.agent.Strokes()[1])
}

func TestEmitStroke_RejectsLocally(t *testing.T) {
	h := join(t, baseSnapshot)
	h.agent.SetBrush("#000000", 50)

	err := h.agent.EmitStroke(models.Point{}, models.Point{X: 1, Y: 1})
	assert.ErrorIs(t, err, protocol.ErrInvalidEvent)
	assert.Len(t, h.conn.Sent(), 1)
	assert.Len(t, h.canvas.Segments(), 1)
}

func TestClear_KeepsPendingStrokes(t *testing.T) {
	h := join(t, baseSnapshot)
	require.NoError(t, h.agent.EmitStroke(models.Point{X: 0.1, Y: 0.1}, models.Point{X: 0.2, Y: 0.2}))
	pending := h.canvas.Segments()[1]

	require.NoError(t, h.agent.EmitClear())
	msg, _ := h.conn.last(t)
	assert.Equal(t, protocol.TypeClearCanvas, msg.Type)
	// Nothing is wiped until the clear is sequenced.
	assert.Len(t, h.canvas.Segments(), 2)

	clears := h.canvas.Clears()
	h.agent.HandleFrame(eventFrame(t, models.SessionEvent{RoomId: "r1", ParticipantId: "alice", Sequence: 4, Type: models.EventClearCanvas}))

	assert.Equal(t, clears+1, h.canvas.Clears())
	assert.Equal(t, []models.StrokeSegment{pending}, h.canvas.Segments())
	assert.Empty(t, h.agent.Strokes())
	assert.Equal(t, 1, h.agent.PendingStrokes())
}

func TestClear_EndsPathInProgress(t *testing.T) {
	h := join(t, baseSnapshot)

	h.agent.PointerDown(0.1, 0.1)
	require.NoError(t, h.agent.PointerMove(0.2, 0.2))
	sent := len(h.conn.Sent())

	h.agent.HandleFrame(eventFrame(t, models.SessionEvent{RoomId: "r1", ParticipantId: "alice", Sequence: 4, Type: models.EventClearCanvas}))

	// The first move after the clear anchors a new path without a segment.
	require.NoError(t, h.agent.PointerMove(0.3, 0.3))
	assert.Len(t, h.conn.Sent(), sent)

	require.NoError(t, h.agent.PointerMove(0.4, 0.4))
	_, data := h.conn.last(t)
	require.NotNil(t, data.From)
	assert.Equal(t, models.Point{X: 0.3, Y: 0.3}, *data.From)
	assert.Equal(t, models.Point{X: 0.4, Y: 0.4}, *data.To)
}

func TestRejection_RemovesOptimisticStroke(t *testing.T) {
	h := join(t, baseSnapshot)
	require.NoError(t, h.agent.EmitStroke(models.Point{X: 0.1, Y: 0.1}, models.Point{X: 0.2, Y: 0.2}))
	require.Len(t, h.canvas.Segments(), 2)
	drain(h.agent)

	frame, err := protocol.EncodeError(protocol.ErrInvalidEvent, 1)
	require.NoError(t, err)
	h.agent.HandleFrame(frame)

	assert.Equal(t, []models.StrokeSegment{seg(0.5, "alice", 2)}, h.canvas.Segments())
	assert.Equal(t, 0, h.agent.PendingStrokes())

	events := drain(h.agent)
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, protocol.ErrInvalidEvent)
	assert.Equal(t, uint32(1), events[0].ClientEventId)
}

func TestPointer_NormalizesAndClamps(t *testing.T) {
	h := join(t, baseSnapshot)
	h.agent.SetViewport(200, 100)

	assert.ErrorIs(t, h.agent.PointerMove(10, 10), client.ErrNotDrawing)

	h.agent.PointerDown(50, 50)
	require.NoError(t, h.agent.PointerMove(400, -20))

	_, data := h.conn.last(t)
	require.NotNil(t, data.From)
	require.NotNil(t, data.To)
	assert.Equal(t, models.Point{X: 0.25, Y: 0.5}, *data.From)
	assert.Equal(t, models.Point{X: 1, Y: 0}, *data.To)

	h.agent.PointerLeave()
	assert.ErrorIs(t, h.agent.PointerMove(10, 10), client.ErrNotDrawing)
}

func TestEmitPlaybackCommand(t *testing.T) {
	t.Run("Invalid Locator Sends Nothing", func(t *testing.T) {
		h := join(t, baseSnapshot)
		err := h.agent.EmitPlaybackCommand(client.PlayCommand{Locator: "https://example.com/page"})
		assert.ErrorIs(t, err, protocol.ErrInvalidLocator)
		assert.Len(t, h.conn.Sent(), 1)
		assert.Equal(t, "", h.player.Track())
	})

	t.Run("Play Locator", func(t *testing.T) {
		h := join(t, baseSnapshot)
		require.NoError(t, h.agent.EmitPlaybackCommand(client.PlayCommand{Locator: "https://youtu.be/" + track + "?t=3"}))

		msg, data := h.conn.last(t)
		assert.Equal(t, protocol.TypePlay, msg.Type)
		assert.Equal(t, track, data.Track)
		assert.Equal(t, track, h.player.Track())
		assert.True(t, h.player.Playing())
	})

	t.Run("Seek", func(t *testing.T) {
		h := join(t, baseSnapshot)
		require.NoError(t, h.agent.EmitPlaybackCommand(client.SeekCommand{Position: 42}))

		msg, data := h.conn.last(t)
		assert.Equal(t, protocol.TypeSeek, msg.Type)
		require.NotNil(t, data.Position)
		assert.Equal(t, 42.0, *data.Position)
		assert.Equal(t, 42.0, h.player.Position())
	})

	t.Run("Negative Seek", func(t *testing.T) {
		h := join(t, baseSnapshot)
		err := h.agent.EmitPlaybackCommand(client.SeekCommand{Position: -1})
		assert.ErrorIs(t, err, protocol.ErrInvalidEvent)
		assert.Len(t, h.conn.Sent(), 1)
	})
}

func playingSnapshot(now time.Time) models.Snapshot {
	snap := baseSnapshot(now)
	snap.Playback = models.PlaybackState{Track: track, Playing: true, Position: 10, ReferenceTime: now.UnixMilli()}
	return snap
}

func TestReconcile_LoadsAndCorrectsDrift(t *testing.T) {
	h := join(t, playingSnapshot)

	assert.Equal(t, track, h.player.Track())
	assert.True(t, h.player.Playing())
	assert.InDelta(t, 10.0, h.player.Position(), 0.001)
	seeks := h.player.Seeks()

	h.clock.Advance(5 * time.Second)
	h.agent.Reconcile()
	assert.Equal(t, seeks, h.player.Seeks())
	assert.InDelta(t, 15.0, h.agent.ExpectedPosition(), 0.001)

	// Within tolerance.
	h.player.Seek(16.5)
	seeks = h.player.Seeks()
	h.agent.Reconcile()
	assert.Equal(t, seeks, h.player.Seeks())

	h.player.Seek(30)
	seeks = h.player.Seeks()
	h.agent.Reconcile()
	assert.Equal(t, seeks+1, h.player.Seeks())
	assert.InDelta(t, 15.0, h.player.Position(), 0.001)
}

func TestReconcile_FollowsRemotePause(t *testing.T) {
	h := join(t, playingSnapshot)
	h.clock.Advance(2 * time.Second)

	h.agent.HandleFrame(eventFrame(t, models.SessionEvent{
		RoomId:        "r1",
		ParticipantId: "alice",
		Sequence:      4,
		Type:          models.EventPause,
		Playback:      &models.PlaybackState{Track: track, Playing: false, Position: 12, ReferenceTime: h.clock.Now().UnixMilli()},
	}))

	assert.False(t, h.player.Playing())
	assert.InDelta(t, 12.0, h.player.Position(), 0.001)
	assert.False(t, h.agent.Playback().Playing)
}

func pausedSnapshot(now time.Time) models.Snapshot {
	snap := baseSnapshot(now)
	snap.Playback = models.PlaybackState{Track: track, Playing: false, Position: 10, ReferenceTime: now.UnixMilli()}
	return snap
}

func TestReconcile_HoldsOwnCommandUntilEcho(t *testing.T) {
	h := join(t, pausedSnapshot)
	require.False(t, h.player.Playing())

	require.NoError(t, h.agent.EmitPlaybackCommand(client.PlayCommand{}))
	_, data := h.conn.last(t)
	require.True(t, h.player.Playing())

	h.clock.Advance(time.Second)
	h.agent.Reconcile()
	assert.True(t, h.player.Playing())

	h.agent.HandleFrame(eventFrame(t, models.SessionEvent{
		RoomId:        "r1",
		ParticipantId: "me",
		Sequence:      4,
		Type:          models.EventPlay,
		ClientEventId: data.ClientEventId,
		Playback:      &models.PlaybackState{Track: track, Playing: true, Position: 10, ReferenceTime: h.clock.Now().UnixMilli()},
	}))
	assert.True(t, h.player.Playing())

	// Once echoed, the room drives the player again.
	h.player.Seek(30)
	h.agent.Reconcile()
	assert.InDelta(t, 10.0, h.player.Position(), 0.001)
}

func TestReconcile_RejectedCommandRestoresRoomState(t *testing.T) {
	h := join(t, pausedSnapshot)

	require.NoError(t, h.agent.EmitPlaybackCommand(client.PlayCommand{}))
	_, data := h.conn.last(t)
	require.True(t, h.player.Playing())

	frame, err := protocol.EncodeError(protocol.ErrInvalidEvent, data.ClientEventId)
	require.NoError(t, err)
	h.agent.HandleFrame(frame)

	assert.False(t, h.player.Playing())
}

func TestJoin_LearnsClockOffset(t *testing.T) {
	h := join(t, func(now time.Time) models.Snapshot {
		snap := playingSnapshot(now)
		snap.ServerTime = now.Add(3 * time.Second).UnixMilli()
		return snap
	})

	assert.Equal(t, 3*time.Second, h.agent.ClockOffset())
	// The server is 3s ahead, so 3s of the track have already played.
	assert.InDelta(t, 13.0, h.agent.ExpectedPosition(), 0.001)
}

func TestLeave(t *testing.T) {
	h := join(t, baseSnapshot)

	require.NoError(t, h.agent.Leave())
	assert.False(t, h.agent.Joined())

	sent := h.conn.Sent()
	assert.Equal(t, protocol.TypeLeave, sent[len(sent)-1].Type)

	assert.ErrorIs(t, h.agent.Leave(), protocol.ErrNotJoined)
	assert.ErrorIs(t, h.agent.EmitClear(), protocol.ErrNotJoined)
}

func TestSession_RejoinsAfterOverflow(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	first := newFakeConn(joinedFrame(t, baseSnapshot(clk.Now())))

	rejoined := baseSnapshot(clk.Now())
	rejoined.Sequence = 9
	rejoined.Participants[1].JoinSequence = 9
	second := newFakeConn(joinedFrame(t, rejoined))

	conns := make(chan *fakeConn, 2)
	conns <- first
	conns <- second

	agent := client.NewAgent(client.Config{
		Dial: func(ctx context.Context) (client.Conn, error) {
			select {
			case c := <-conns:
				return c, nil
			default:
				return nil, protocol.ErrRoomUnavailable
			}
		},
		Now:               clk.Now,
		InitialBackoff:    5 * time.Millisecond,
		ReconcileInterval: time.Hour,
	})
	require.NoError(t, agent.Join(context.Background(), "r1"))
	t.Cleanup(agent.Close)

	first.drop(protocol.ErrQueueOverflow)

	assert.Eventually(t, func() bool { return agent.LastSequence() == 9 }, time.Second, 5*time.Millisecond)
	assert.True(t, agent.Joined())
	assert.Len(t, second.Sent(), 1)
	assert.Equal(t, 1, first.Closes())
	assert.Equal(t, 0, second.Closes())
}

func TestSession_StopsWhenSuperseded(t *testing.T) {
	first := newFakeConn(joinedFrame(t, baseSnapshot(time.Now())))
	var dials int
	var mu sync.Mutex

	agent := client.NewAgent(client.Config{
		Dial: func(ctx context.Context) (client.Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			dials++
			if dials == 1 {
				return first, nil
			}
			return nil, protocol.ErrRoomUnavailable
		},
		InitialBackoff:    5 * time.Millisecond,
		ReconcileInterval: time.Hour,
	})
	require.NoError(t, agent.Join(context.Background(), "r1"))
	t.Cleanup(agent.Close)
	drain(agent)

	first.drop(protocol.ErrSuperseded)

	var ended client.AppliedEvent
	select {
	case ended = <-agent.Events():
	case <-time.After(time.Second):
		t.Fatal("session did not end")
	}
	assert.ErrorIs(t, ended.Err, protocol.ErrSuperseded)
	assert.False(t, agent.Joined())
	assert.Eventually(t, func() bool { return first.Closes() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, dials)
	mu.Unlock()
}
