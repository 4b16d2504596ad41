package room

import (
	"fmt"
	"sort"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
)

// State is the authoritative fold of a room's EventLog.
type State struct {
	sequence     uint64
	strokes      []models.StrokeSegment
	playback     models.PlaybackState
	participants map[string]models.Participant
}

func NewState() *State {
	return &State{
		strokes:      []models.StrokeSegment{},
		participants: make(map[string]models.Participant),
	}
}

// Fold rebuilds a State from an ordered event sequence.
func Fold(events []models.SessionEvent) *State {
	s := NewState()
	for _, ev := range events {
		s.Apply(ev)
	}
	return s
}

// Apply folds one sequenced event. Playback events carry their resulting
// PlaybackState, so applying them is a plain replacement.
func (s *State) Apply(ev models.SessionEvent) {
	s.sequence = ev.Sequence

	switch ev.Type {
	case models.EventJoin:
		s.participants[ev.ParticipantId] = models.Participant{Id: ev.ParticipantId, JoinSequence: ev.Sequence}

	case models.EventLeave:
		delete(s.participants, ev.ParticipantId)

	case models.EventDraw:
		if ev.Segment == nil {
			return
		}
		seg := *ev.Segment
		seg.ParticipantId = ev.ParticipantId
		seg.Sequence = ev.Sequence
		s.strokes = append(s.strokes, seg)

	case models.EventClearCanvas:
		s.strokes = []models.StrokeSegment{}

	case models.EventPlay, models.EventPause, models.EventSeek:
		if ev.Playback != nil {
			s.playback = *ev.Playback
		}
	}
}

func (s *State) Sequence() uint64 {
	return s.sequence
}

func (s *State) Strokes() []models.StrokeSegment {
	out := make([]models.StrokeSegment, len(s.strokes))
	copy(out, s.strokes)
	return out
}

func (s *State) Playback() models.PlaybackState {
	return s.playback
}

func (s *State) IsParticipant(id string) bool {
	_, ok := s.participants[id]
	return ok
}

// Participants are returned in join order.
func (s *State) Participants() []models.Participant {
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinSequence < out[j].JoinSequence })
	return out
}

// NextPlayback computes the PlaybackState that ev would produce at nowMs.
// It does not mutate the state.
func (s *State) NextPlayback(ev models.SessionEvent, nowMs int64) (models.PlaybackState, error) {
	cur := s.playback

	switch ev.Type {
	case models.EventPlay:
		track := ev.Track
		if track == "" {
			track = cur.Track
		}
		if track == "" {
			return models.PlaybackState{}, fmt.Errorf("%w: no track to play", protocol.ErrInvalidEvent)
		}
		var position float64
		switch {
		case ev.Position != nil:
			position = *ev.Position
		case track == cur.Track:
			position = cur.PositionAt(nowMs)
		}
		return models.PlaybackState{Track: track, Playing: true, Position: position, ReferenceTime: nowMs}, nil

	case models.EventPause:
		if cur.Track == "" {
			return models.PlaybackState{}, fmt.Errorf("%w: nothing is loaded", protocol.ErrInvalidEvent)
		}
		return models.PlaybackState{Track: cur.Track, Playing: false, Position: cur.PositionAt(nowMs), ReferenceTime: nowMs}, nil

	case models.EventSeek:
		if cur.Track == "" {
			return models.PlaybackState{}, fmt.Errorf("%w: nothing is loaded", protocol.ErrInvalidEvent)
		}
		if ev.Position == nil {
			return models.PlaybackState{}, fmt.Errorf("%w: seek requires a position", protocol.ErrInvalidEvent)
		}
		return models.PlaybackState{Track: cur.Track, Playing: cur.Playing, Position: *ev.Position, ReferenceTime: nowMs}, nil
	}

	return models.PlaybackState{}, fmt.Errorf("%w: %s is not a playback event", protocol.ErrInvalidEvent, ev.Type)
}

// Snapshot returns the state as seen by a participant joining at nowMs.
// Playback is re-anchored to nowMs so the joiner does not need the original
// reference point.
func (s *State) Snapshot(roomId string, epoch string, nowMs int64) models.Snapshot {
	return models.Snapshot{
		RoomId:       roomId,
		Epoch:        epoch,
		Sequence:     s.sequence,
		Strokes:      s.Strokes(),
		Playback:     s.playback.At(nowMs),
		Participants: s.Participants(),
		ServerTime:   nowMs,
	}
}
