package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Suraj08832/collabstudy/models"
)

type MessageQueue interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

// Message is one queue entry. Id is the receipt handle of a received message.
type Message struct {
	Id   string
	Kind string
	Body string
}

const KindRoomClosed = "room-closed"

// RoomClosedMessage is queued when the last participant leaves a room. The
// retention worker decides what happens to that incarnation's archive.
type RoomClosedMessage struct {
	RoomId       string `json:"roomId"`
	Epoch        string `json:"epoch"`
	LastSequence uint64 `json:"lastSequence"`
	Closed       int64  `json:"closed"`
}

func NewRoomClosedMessage(info models.RoomInfo) (Message, error) {
	body, err := json.Marshal(RoomClosedMessage{
		RoomId:       info.RoomId,
		Epoch:        info.Epoch,
		LastSequence: info.Sequence,
		Closed:       info.Updated,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindRoomClosed, Body: string(body)}, nil
}

func DecodeRoomClosed(msg *Message) (RoomClosedMessage, error) {
	var rc RoomClosedMessage
	if msg.Kind != "" && msg.Kind != KindRoomClosed {
		return rc, fmt.Errorf("unexpected message kind %q", msg.Kind)
	}
	if err := json.Unmarshal([]byte(msg.Body), &rc); err != nil {
		return rc, fmt.Errorf("invalid room closed message: %w", err)
	}
	if rc.RoomId == "" || rc.Epoch == "" {
		return rc, fmt.Errorf("invalid room closed message: missing room or epoch")
	}
	return rc, nil
}
