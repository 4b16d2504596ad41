package store

import (
	"context"
	"errors"

	"github.com/Suraj08832/collabstudy/models"
)

// SessionStore archives sequenced events and per-room bookkeeping. The live
// relay never reads from it; it backs history, stats and retention.
type SessionStore interface {
	OpenRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error
	CloseRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error
	GetRoomEpochs(ctx context.Context, roomId string) ([]models.RoomEpoch, error)

	// WriteEventBatch returns the events that could not be written.
	WriteEventBatch(ctx context.Context, events []models.SessionEvent) ([]models.SessionEvent, error)
	GetRoomEvents(ctx context.Context, roomId string, epoch string, after uint64, limit int) ([]models.SessionEvent, error)
	DeleteRoomEpoch(ctx context.Context, roomId string, epoch string) error

	IncrementRoomStats(ctx context.Context, delta models.RoomStats) error
	GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error)
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
