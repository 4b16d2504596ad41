package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Suraj08832/collabstudy/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) OpenRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error {
	args := m.Called(ctx, epoch)
	return args.Error(0)
}

func (m *MockStore) CloseRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error {
	args := m.Called(ctx, epoch)
	return args.Error(0)
}

func (m *MockStore) GetRoomEpochs(ctx context.Context, roomId string) ([]models.RoomEpoch, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]models.RoomEpoch), args.Error(1)
}

func (m *MockStore) WriteEventBatch(ctx context.Context, events []models.SessionEvent) ([]models.SessionEvent, error) {
	args := m.Called(ctx, events)
	return args.Get(0).([]models.SessionEvent), args.Error(1)
}

func (m *MockStore) GetRoomEvents(ctx context.Context, roomId string, epoch string, after uint64, limit int) ([]models.SessionEvent, error) {
	args := m.Called(ctx, roomId, epoch, after, limit)
	return args.Get(0).([]models.SessionEvent), args.Error(1)
}

func (m *MockStore) DeleteRoomEpoch(ctx context.Context, roomId string, epoch string) error {
	args := m.Called(ctx, roomId, epoch)
	return args.Error(0)
}

func (m *MockStore) IncrementRoomStats(ctx context.Context, delta models.RoomStats) error {
	args := m.Called(ctx, delta)
	return args.Error(0)
}

func (m *MockStore) GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(models.RoomStats), args.Error(1)
}
