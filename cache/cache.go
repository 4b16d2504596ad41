package cache

import (
	"context"
	"time"

	"github.com/Suraj08832/collabstudy/models"
)

// Pub/sub channels shared by every relay instance.
const (
	ChannelParticipantRevoked = "participant-revoked"
)

// SessionCache is the cross-instance view of the relay: a directory of live
// rooms, revocation flags and pub/sub.
type SessionCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	SetRoomInfo(ctx context.Context, info models.RoomInfo) error
	RemoveRoomInfo(ctx context.Context, roomId string) error
	ListRooms(ctx context.Context) ([]models.RoomInfo, error)

	MarkRevoked(ctx context.Context, participantId string, ttl time.Duration) error
	IsRevoked(ctx context.Context, participantId string) (bool, error)
}
