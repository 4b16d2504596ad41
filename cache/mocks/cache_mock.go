package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Suraj08832/collabstudy/models"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) SetRoomInfo(ctx context.Context, info models.RoomInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

func (m *MockCache) RemoveRoomInfo(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockCache) ListRooms(ctx context.Context) ([]models.RoomInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.RoomInfo), args.Error(1)
}

func (m *MockCache) MarkRevoked(ctx context.Context, participantId string, ttl time.Duration) error {
	args := m.Called(ctx, participantId, ttl)
	return args.Error(0)
}

func (m *MockCache) IsRevoked(ctx context.Context, participantId string) (bool, error) {
	args := m.Called(ctx, participantId)
	return args.Bool(0), args.Error(1)
}
