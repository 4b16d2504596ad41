package relay

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
	"github.com/Suraj08832/collabstudy/room"
)

// Hooks observes the relay. EventAccepted runs inside a room's sequencing
// step and must not block; the room hooks run outside any lock.
type Hooks interface {
	EventAccepted(ev models.SessionEvent)
	RoomOpened(info models.RoomInfo)
	RoomClosed(info models.RoomInfo)
}

type NopHooks struct{}

func (NopHooks) EventAccepted(models.SessionEvent) {}
func (NopHooks) RoomOpened(models.RoomInfo)        {}
func (NopHooks) RoomClosed(models.RoomInfo)        {}

type Config struct {
	QueueSize int
	Limits    protocol.Limits
	Now       func() time.Time
}

// Server owns every live room. Rooms are created on first join and torn down
// once the last participant is gone.
type Server struct {
	cfg   room.Config
	hooks Hooks

	mu         sync.Mutex
	rooms      map[string]*room.Room
	membership map[string]*room.Room
	closed     bool
}

func NewServer(cfg Config, hooks Hooks) *Server {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Server{
		cfg: room.Config{
			QueueSize: cfg.QueueSize,
			Limits:    cfg.Limits,
			Now:       cfg.Now,
		},
		hooks:      hooks,
		rooms:      make(map[string]*room.Room),
		membership: make(map[string]*room.Room),
	}
}

// Connect joins participantId to roomId, creating the room if needed. A
// participant still present in another room is superseded there first.
func (s *Server) Connect(participantId string, roomId string) (models.Snapshot, *room.Subscription, error) {
	if participantId == "" {
		return models.Snapshot{}, nil, fmt.Errorf("%w: empty participant id", protocol.ErrInvalidEvent)
	}
	if roomId == "" {
		return models.Snapshot{}, nil, fmt.Errorf("%w: empty room id", protocol.ErrInvalidEvent)
	}

	var opened, closed []models.RoomInfo
	defer func() { s.notify(opened, closed) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.Snapshot{}, nil, protocol.ErrRoomUnavailable
	}

	if prev, ok := s.membership[participantId]; ok && prev.Id() != roomId {
		prev.Drop(participantId, protocol.ErrSuperseded)
		delete(s.membership, participantId)
		if info, ok := s.reapLocked(prev); ok {
			closed = append(closed, info)
		}
	}

	rm, ok := s.rooms[roomId]
	if !ok {
		rm = room.New(roomId, uuid.Must(uuid.NewV7()).String(), s.cfg, s.hooks.EventAccepted)
		s.rooms[roomId] = rm
		log.Info().Str("module", "relay").Str("roomId", roomId).Str("epoch", rm.Epoch()).Msg("room created")
	}

	snap, sub, err := rm.Join(participantId)
	if err != nil {
		// Only a closed room refuses joins and closed rooms never stay in the map.
		if errors.Is(err, room.ErrClosed) {
			delete(s.rooms, roomId)
			return models.Snapshot{}, nil, protocol.ErrRoomUnavailable
		}
		return models.Snapshot{}, nil, err
	}
	s.membership[participantId] = rm

	if !ok {
		opened = append(opened, rm.Info())
	}
	return snap, sub, nil
}

// Publish routes ev to the participant's room.
func (s *Server) Publish(participantId string, ev models.SessionEvent) (models.SessionEvent, error) {
	s.mu.Lock()
	rm, ok := s.membership[participantId]
	s.mu.Unlock()

	if !ok {
		return models.SessionEvent{}, protocol.ErrNotJoined
	}

	accepted, err := rm.Publish(participantId, ev)
	if errors.Is(err, protocol.ErrNotJoined) {
		// Dropped for overflow since the lookup.
		s.forget(participantId, rm)
	}
	return accepted, err
}

// Disconnect removes participantId from its room and sequences its Leave.
func (s *Server) Disconnect(participantId string) error {
	var closed []models.RoomInfo
	defer func() { s.notify(nil, closed) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.membership[participantId]
	if !ok {
		return protocol.ErrNotJoined
	}
	delete(s.membership, participantId)
	err := rm.Leave(participantId)
	if info, ok := s.reapLocked(rm); ok {
		closed = append(closed, info)
	}
	return err
}

// Release ends a connection's subscription. Unlike Disconnect it leaves a
// newer connection of the same participant untouched.
func (s *Server) Release(sub *room.Subscription) {
	var closed []models.RoomInfo
	defer func() { s.notify(nil, closed) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[sub.RoomId]
	if !ok {
		return
	}
	rm.Release(sub)
	if s.membership[sub.ParticipantId] == rm && !rm.IsMember(sub.ParticipantId) {
		delete(s.membership, sub.ParticipantId)
	}
	if info, ok := s.reapLocked(rm); ok {
		closed = append(closed, info)
	}
}

// RoomOf reports the room a participant is currently in.
func (s *Server) RoomOf(participantId string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.membership[participantId]
	if !ok {
		return "", false
	}
	return rm.Id(), true
}

func (s *Server) Rooms() []models.RoomInfo {
	s.mu.Lock()
	rooms := make([]*room.Room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()

	out := make([]models.RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomId < out[j].RoomId })
	return out
}

func (s *Server) Snapshot(roomId string) (models.Snapshot, bool) {
	s.mu.Lock()
	rm, ok := s.rooms[roomId]
	s.mu.Unlock()
	if !ok {
		return models.Snapshot{}, false
	}
	return rm.Snapshot(), true
}

// Events returns the live log of roomId after sequence.
func (s *Server) Events(roomId string, after uint64) ([]models.SessionEvent, bool) {
	s.mu.Lock()
	rm, ok := s.rooms[roomId]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rm.EventsSince(after), true
}

// Shutdown closes every room. Subscriptions end with ErrRoomUnavailable and
// later Connect calls fail.
func (s *Server) Shutdown() {
	var closed []models.RoomInfo
	defer func() { s.notify(nil, closed) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, rm := range s.rooms {
		closed = append(closed, rm.Info())
		rm.Close(protocol.ErrRoomUnavailable)
		delete(s.rooms, id)
	}
	s.membership = make(map[string]*room.Room)
	log.Info().Str("module", "relay").Int("rooms", len(closed)).Msg("relay shut down")
}

func (s *Server) forget(participantId string, rm *room.Room) {
	var closed []models.RoomInfo
	defer func() { s.notify(nil, closed) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.membership[participantId] == rm && !rm.IsMember(participantId) {
		delete(s.membership, participantId)
	}
	if info, ok := s.reapLocked(rm); ok {
		closed = append(closed, info)
	}
}

// reapLocked removes rm once nobody is left in it. Caller holds s.mu.
func (s *Server) reapLocked(rm *room.Room) (models.RoomInfo, bool) {
	if s.rooms[rm.Id()] != rm || !rm.CloseIfEmpty() {
		return models.RoomInfo{}, false
	}
	delete(s.rooms, rm.Id())
	for pid, member := range s.membership {
		if member == rm {
			delete(s.membership, pid)
		}
	}
	info := rm.Info()
	log.Info().Str("module", "relay").Str("roomId", info.RoomId).Str("epoch", info.Epoch).
		Uint64("sequence", info.Sequence).Msg("room closed")
	return info, true
}

func (s *Server) notify(opened []models.RoomInfo, closed []models.RoomInfo) {
	for _, info := range closed {
		s.hooks.RoomClosed(info)
	}
	for _, info := range opened {
		s.hooks.RoomOpened(info)
	}
}
