package room

import (
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
)

const DefaultQueueSize = 256

// ErrClosed is returned by Join on a room that has been torn down. Callers
// should look the room up again.
var ErrClosed = errors.New("room closed")

type Config struct {
	QueueSize int
	Limits    protocol.Limits
	Now       func() time.Time
	NewId     func() string
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewId == nil {
		c.NewId = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return c
}

// Subscription is a participant's bounded outbound queue. C is closed when
// the participant leaves or is dropped; Err then reports why (nil on a
// normal leave).
type Subscription struct {
	ParticipantId string
	RoomId        string
	C             <-chan models.SessionEvent

	ch     chan models.SessionEvent
	mu     sync.Mutex
	err    error
	closed bool
}

func newSubscription(participantId string, roomId string, size int) *Subscription {
	ch := make(chan models.SessionEvent, size)
	return &Subscription{ParticipantId: participantId, RoomId: roomId, C: ch, ch: ch}
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// close must be called with the owning room's lock held, since sends happen
// under the same lock.
func (s *Subscription) close(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = cause
	close(s.ch)
}

// Room sequences every event of one room incarnation. All mutation happens
// under mu, which makes sequence assignment, log append, fold and fan-out a
// single step.
type Room struct {
	id    string
	epoch string
	cfg   Config

	// onAccept observes each sequenced event under the room lock. It must not block.
	onAccept func(models.SessionEvent)

	mu      sync.Mutex
	log     *EventLog
	state   *State
	members map[string]*Subscription
	closed  bool
}

func New(id string, epoch string, cfg Config, onAccept func(models.SessionEvent)) *Room {
	return &Room{
		id:       id,
		epoch:    epoch,
		cfg:      cfg.withDefaults(),
		onAccept: onAccept,
		log:      NewEventLog(),
		state:    NewState(),
		members:  make(map[string]*Subscription),
	}
}

func (r *Room) Id() string {
	return r.id
}

func (r *Room) Epoch() string {
	return r.epoch
}

// Join sequences a Join event and returns the snapshot at that sequence along
// with the participant's subscription. A participant already in the room is
// superseded: its old subscription ends with ErrSuperseded and a Leave is
// sequenced first.
func (r *Room) Join(participantId string) (models.Snapshot, *Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.Snapshot{}, nil, ErrClosed
	}

	if old, ok := r.members[participantId]; ok {
		r.remove(old, protocol.ErrSuperseded)
	}

	now := r.cfg.Now().UnixMilli()
	r.commit(models.SessionEvent{Type: models.EventJoin, ParticipantId: participantId}, now)

	sub := newSubscription(participantId, r.id, r.cfg.QueueSize)
	r.members[participantId] = sub

	log.Debug().Str("module", "room").Str("roomId", r.id).Str("participantId", participantId).
		Uint64("sequence", r.state.Sequence()).Msg("participant joined")

	return r.state.Snapshot(r.id, r.epoch, now), sub, nil
}

// Publish validates, sequences and fans out ev on behalf of participantId.
// The sender receives the accepted event through its own subscription too.
func (r *Room) Publish(participantId string, ev models.SessionEvent) (models.SessionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[participantId]; !ok || r.closed {
		return models.SessionEvent{}, protocol.ErrNotJoined
	}
	if err := protocol.ValidateEvent(ev, r.cfg.Limits); err != nil {
		return models.SessionEvent{}, err
	}

	ev.ParticipantId = participantId
	ev.Playback = nil
	now := r.cfg.Now().UnixMilli()

	if ev.Type.IsPlayback() {
		next, err := r.state.NextPlayback(ev, now)
		if err != nil {
			return models.SessionEvent{}, err
		}
		ev.Playback = &next
	}

	return r.commit(ev, now), nil
}

func (r *Room) Leave(participantId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.members[participantId]
	if !ok {
		return protocol.ErrNotJoined
	}
	r.remove(sub, nil)
	return nil
}

// Release leaves the room only if sub is still the participant's current
// subscription. It reports whether a Leave was sequenced.
func (r *Room) Release(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[sub.ParticipantId] != sub {
		return false
	}
	r.remove(sub, nil)
	return true
}

// Drop removes a participant with cause, as if its queue had overflowed.
func (r *Room) Drop(participantId string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.members[participantId]; ok {
		r.remove(sub, cause)
	}
}

// CloseIfEmpty marks the room closed when nobody is in it.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}

// Close ends every subscription with cause without sequencing Leave events.
func (r *Room) Close(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, sub := range r.members {
		sub.close(cause)
		delete(r.members, id)
	}
}

func (r *Room) Snapshot() models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Snapshot(r.id, r.epoch, r.cfg.Now().UnixMilli())
}

func (r *Room) Events() []models.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Events()
}

func (r *Room) EventsSince(sequence uint64) []models.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Since(sequence)
}

func (r *Room) Info() models.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.RoomInfo{
		RoomId:       r.id,
		Epoch:        r.epoch,
		Participants: len(r.members),
		Sequence:     r.log.LastSequence(),
		Updated:      r.cfg.Now().UnixMilli(),
	}
}

func (r *Room) IsMember(participantId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[participantId]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// commit assigns the next sequence and applies ev everywhere. Caller holds mu.
func (r *Room) commit(ev models.SessionEvent, nowMs int64) models.SessionEvent {
	ev.Id = r.cfg.NewId()
	ev.RoomId = r.id
	ev.Epoch = r.epoch
	ev.Sequence = r.log.LastSequence() + 1
	ev.Timestamp = nowMs
	if ev.Segment != nil {
		seg := *ev.Segment
		seg.ParticipantId = ev.ParticipantId
		seg.Sequence = ev.Sequence
		ev.Segment = &seg
	}

	if err := r.log.Append(ev); err != nil {
		log.Error().Err(err).Str("module", "room").Str("roomId", r.id).Msg("event log append failed")
		return ev
	}
	r.state.Apply(ev)

	if r.onAccept != nil {
		r.onAccept(ev)
	}

	r.fanout(ev)
	return ev
}

// fanout never blocks. A member whose queue is full is dropped, which
// sequences its Leave and may in turn overflow others.
func (r *Room) fanout(ev models.SessionEvent) {
	var overflowed []*Subscription
	for _, sub := range r.members {
		select {
		case sub.ch <- ev:
		default:
			overflowed = append(overflowed, sub)
		}
	}

	for _, sub := range overflowed {
		log.Warn().Str("module", "room").Str("roomId", r.id).Str("participantId", sub.ParticipantId).
			Uint64("sequence", ev.Sequence).Msg("outbound queue overflow, dropping participant")
		r.remove(sub, protocol.ErrQueueOverflow)
	}
}

// remove is a no-op if sub was already replaced or removed. Caller holds mu.
func (r *Room) remove(sub *Subscription, cause error) {
	if r.members[sub.ParticipantId] != sub {
		return
	}
	delete(r.members, sub.ParticipantId)
	sub.close(cause)
	r.commit(models.SessionEvent{Type: models.EventLeave, ParticipantId: sub.ParticipantId}, r.cfg.Now().UnixMilli())
}
