package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Suraj08832/collabstudy/models"
)

// Subprotocol is the first Sec-WebSocket-Protocol value; the second carries
// the participant token.
const Subprotocol = "collabstudy-v1"

// Client -> server message types. Publishable types share their names with
// models.EventType.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeDraw        = string(models.EventDraw)
	TypeClearCanvas = string(models.EventClearCanvas)
	TypePlay        = string(models.EventPlay)
	TypePause       = string(models.EventPause)
	TypeSeek        = string(models.EventSeek)
)

// Server -> client message types.
const (
	TypeJoined = "joined"
	TypeEvent  = "event"
	TypeLeft   = "left"
	TypeError  = "error"
)

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinData struct {
	RoomId string `json:"roomId"`
}

// PublishData is the payload of every publishable message type; only the
// fields relevant to the type are set.
type PublishData struct {
	ClientEventId uint32        `json:"clientEventId"`
	From          *models.Point `json:"from,omitempty"`
	To            *models.Point `json:"to,omitempty"`
	Color         string        `json:"color,omitempty"`
	Width         float64       `json:"width,omitempty"`
	Track         string        `json:"track,omitempty"`
	Position      *float64      `json:"position,omitempty"`
}

type JoinedData struct {
	Snapshot         models.Snapshot `json:"snapshot"`
	AssignedSequence uint64          `json:"assignedSequence"`
}

type ErrorData struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	ClientEventId uint32 `json:"clientEventId,omitempty"`
}

func Encode(msgType string, data any) ([]byte, error) {
	msg := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{msgType, data}
	return json.Marshal(msg)
}

// EncodeError builds an error frame for err.
func EncodeError(err error, clientEventId uint32) ([]byte, error) {
	return Encode(TypeError, ErrorData{
		Code:          Code(err),
		Message:       err.Error(),
		ClientEventId: clientEventId,
	})
}

// IsPublishType reports whether msgType is one of the publishable event types.
func IsPublishType(msgType string) bool {
	switch msgType {
	case TypeDraw, TypeClearCanvas, TypePlay, TypePause, TypeSeek:
		return true
	}
	return false
}

// EventFromPublish converts an inbound publish message into an unsequenced
// event. Shape validation is left to ValidateEvent.
func EventFromPublish(msgType string, data PublishData) (models.SessionEvent, error) {
	if !IsPublishType(msgType) {
		return models.SessionEvent{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, msgType)
	}

	ev := models.SessionEvent{
		Type:          models.EventType(msgType),
		ClientEventId: data.ClientEventId,
	}

	switch ev.Type {
	case models.EventDraw:
		if data.From == nil || data.To == nil {
			return models.SessionEvent{}, fmt.Errorf("%w: draw requires both endpoints", ErrInvalidEvent)
		}
		ev.Segment = &models.StrokeSegment{
			From:  *data.From,
			To:    *data.To,
			Color: data.Color,
			Width: data.Width,
		}
	case models.EventPlay:
		ev.Track = data.Track
		ev.Position = data.Position
	case models.EventSeek:
		ev.Position = data.Position
	}

	return ev, nil
}

// PublishFromEvent is the inverse of EventFromPublish, used by clients.
func PublishFromEvent(ev models.SessionEvent) (string, PublishData) {
	data := PublishData{
		ClientEventId: ev.ClientEventId,
		Track:         ev.Track,
		Position:      ev.Position,
	}
	if ev.Segment != nil {
		from, to := ev.Segment.From, ev.Segment.To
		data.From = &from
		data.To = &to
		data.Color = ev.Segment.Color
		data.Width = ev.Segment.Width
	}
	return string(ev.Type), data
}
