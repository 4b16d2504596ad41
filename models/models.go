package models

type EventType string

const (
	EventJoin        EventType = "join"
	EventLeave       EventType = "leave"
	EventDraw        EventType = "draw"
	EventClearCanvas EventType = "clear_canvas"
	EventPlay        EventType = "play"
	EventPause       EventType = "pause"
	EventSeek        EventType = "seek"
)

// IsPlayback reports whether the event type mutates PlaybackState.
func (t EventType) IsPlayback() bool {
	return t == EventPlay || t == EventPause || t == EventSeek
}

// Point is a coordinate in room-normalized units, both axes in [0, 1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type StrokeSegment struct {
	ParticipantId string  `json:"participantId"`
	From          Point   `json:"from"`
	To            Point   `json:"to"`
	Color         string  `json:"color"`
	Width         float64 `json:"width"`
	Sequence      uint64  `json:"sequence"`
}

// PlaybackState is anchored at ReferenceTime (server clock, ms since epoch).
type PlaybackState struct {
	Track         string  `json:"track"`
	Playing       bool    `json:"playing"`
	Position      float64 `json:"position"`
	ReferenceTime int64   `json:"referenceTime"`
}

// PositionAt projects the playback position in seconds to nowMs.
func (p PlaybackState) PositionAt(nowMs int64) float64 {
	if !p.Playing {
		return p.Position
	}
	elapsed := float64(nowMs-p.ReferenceTime) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	return p.Position + elapsed
}

// At re-anchors the state to nowMs without changing what it describes.
func (p PlaybackState) At(nowMs int64) PlaybackState {
	p.Position = p.PositionAt(nowMs)
	p.ReferenceTime = nowMs
	return p
}

type SessionEvent struct {
	Id            string         `json:"id,omitempty"`
	RoomId        string         `json:"roomId"`
	Epoch         string         `json:"epoch,omitempty"`
	ParticipantId string         `json:"participantId"`
	Sequence      uint64         `json:"sequence"`
	Timestamp     int64          `json:"timestamp"`
	Type          EventType      `json:"type"`
	ClientEventId uint32         `json:"clientEventId,omitempty"`
	Segment       *StrokeSegment `json:"segment,omitempty"`
	Track         string         `json:"track,omitempty"`
	Position      *float64       `json:"position,omitempty"`
	Playback      *PlaybackState `json:"playback,omitempty"`
}

type Participant struct {
	Id           string `json:"id"`
	JoinSequence uint64 `json:"joinSequence"`
}

type Snapshot struct {
	RoomId       string          `json:"roomId"`
	Epoch        string          `json:"epoch"`
	Sequence     uint64          `json:"sequence"`
	Strokes      []StrokeSegment `json:"strokes"`
	Playback     PlaybackState   `json:"playback"`
	Participants []Participant   `json:"participants"`
	ServerTime   int64           `json:"serverTime"`
}

type RoomInfo struct {
	RoomId       string `json:"roomId"`
	Epoch        string `json:"epoch"`
	Participants int    `json:"participants"`
	Sequence     uint64 `json:"sequence"`
	Updated      int64  `json:"updated"`
}

type RoomStats struct {
	RoomId           string `json:"roomId"`
	Draws            int    `json:"draws"`
	Clears           int    `json:"clears"`
	PlaybackCommands int    `json:"playbackCommands"`
}

// Float64 returns a pointer to v, for optional positions.
func Float64(v float64) *float64 {
	return &v
}

// RoomEpoch is the archive record of one incarnation of a room.
type RoomEpoch struct {
	RoomId       string `json:"roomId"`
	Epoch        string `json:"epoch"`
	Opened       int64  `json:"opened"`
	Closed       int64  `json:"closed,omitempty"`
	LastSequence uint64 `json:"lastSequence"`
}

// Add accumulates the counts of other into s.
func (s RoomStats) Add(other RoomStats) RoomStats {
	s.Draws += other.Draws
	s.Clears += other.Clears
	s.PlaybackCommands += other.PlaybackCommands
	return s
}

// IsZero reports whether s carries no counts.
func (s RoomStats) IsZero() bool {
	return s.Draws == 0 && s.Clears == 0 && s.PlaybackCommands == 0
}
