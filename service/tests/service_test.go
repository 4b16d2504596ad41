package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cachemocks "github.com/Suraj08832/collabstudy/cache/mocks"
	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/mq"
	mqmocks "github.com/Suraj08832/collabstudy/mq/mocks"
	"github.com/Suraj08832/collabstudy/relay"
	"github.com/Suraj08832/collabstudy/service"
	"github.com/Suraj08832/collabstudy/store"
	storemocks "github.com/Suraj08832/collabstudy/store/mocks"
	"github.com/Suraj08832/collabstudy/worker"
)

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.EventBatcher) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// The batcher is never run; tests read what lands on its channel
	eventBatcher := worker.NewEventBatcher(mockStore, 1000, nil)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		eventBatcher,
		relay.Config{},
		[]byte("secret"),
		true,
	)
	require.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, eventBatcher
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func waitFor(t *testing.T, done chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNewService_RequiresStoreAndSecret(t *testing.T) {
	_, err := service.NewService(nil, nil, nil, nil, relay.Config{}, []byte("secret"), false)
	assert.Error(t, err)

	_, err = service.NewService(new(storemocks.MockStore), nil, nil, nil, relay.Config{}, nil, false)
	assert.Error(t, err)
}

func TestRoomLifecycle_DrivesStoreCacheAndQueue(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, eventBatcher := setupService(t)

	mockStore.On("OpenRoomEpoch", mock.Anything, mock.MatchedBy(func(e models.RoomEpoch) bool {
		return e.RoomId == "r1" && e.Epoch != "" && e.Opened > 0
	})).Return(nil).Once()
	directorySet := wrapMockWithSignal(mockCache.On("SetRoomInfo", mock.Anything, mock.MatchedBy(func(info models.RoomInfo) bool {
		return info.RoomId == "r1" && info.Participants == 1
	})).Return(nil).Once())

	snap, sub, err := svc.Relay.Connect("alice", "r1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, uint64(1), snap.Sequence)

	waitFor(t, directorySet, "directory update")
	mockStore.AssertExpectations(t)

	select {
	case ev := <-eventBatcher.WriteCh:
		assert.Equal(t, models.EventJoin, ev.Type)
		assert.Equal(t, uint64(1), ev.Sequence)
		assert.Equal(t, snap.Epoch, ev.Epoch)
	default:
		t.Fatal("join was not handed to the archive")
	}

	var sent mq.Message
	directoryRemoved := wrapMockWithSignal(mockCache.On("RemoveRoomInfo", mock.Anything, "r1").Return(nil).Once())
	queued := make(chan struct{})
	mockMQ.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(mq.Message)
		close(queued)
	}).Return(nil).Once()

	require.NoError(t, svc.Relay.Disconnect("alice"))

	waitFor(t, directoryRemoved, "directory removal")
	waitFor(t, queued, "room closed message")

	rc, err := mq.DecodeRoomClosed(&sent)
	require.NoError(t, err)
	assert.Equal(t, "r1", rc.RoomId)
	assert.Equal(t, snap.Epoch, rc.Epoch)
	assert.Equal(t, uint64(2), rc.LastSequence)
}

func TestRoomClosed_WithoutQueueClosesEpochDirectly(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	svc, err := service.NewService(mockStore, nil, nil, nil, relay.Config{}, []byte("secret"), false)
	require.NoError(t, err)

	mockStore.On("OpenRoomEpoch", mock.Anything, mock.Anything).Return(nil).Once()
	closed := wrapMockWithSignal(mockStore.On("CloseRoomEpoch", mock.Anything, mock.MatchedBy(func(e models.RoomEpoch) bool {
		return e.RoomId == "r1" && e.LastSequence == 2 && e.Closed > 0
	})).Return(nil).Once())

	_, _, err = svc.Relay.Connect("alice", "r1")
	require.NoError(t, err)
	require.NoError(t, svc.Relay.Disconnect("alice"))

	waitFor(t, closed, "epoch close")
}

func TestRoomOpened_StoreFailureDoesNotBlockJoin(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)

	mockStore.On("OpenRoomEpoch", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	mockCache.On("SetRoomInfo", mock.Anything, mock.Anything).Return(nil).Maybe()

	_, sub, err := svc.Relay.Connect("alice", "r1")
	require.NoError(t, err)
	assert.NotNil(t, sub)
}

func TestListRooms_FallsBackToRelay(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("OpenRoomEpoch", mock.Anything, mock.Anything).Return(nil)
	mockCache.On("SetRoomInfo", mock.Anything, mock.Anything).Return(nil).Maybe()
	_, _, err := svc.Relay.Connect("alice", "local")
	require.NoError(t, err)

	shared := []models.RoomInfo{{RoomId: "remote", Participants: 3}}
	mockCache.On("ListRooms", ctx).Return(shared, nil).Once()
	assert.Equal(t, shared, svc.ListRooms(ctx))

	mockCache.On("ListRooms", ctx).Return([]models.RoomInfo(nil), assert.AnError).Once()
	rooms := svc.ListRooms(ctx)
	require.Len(t, rooms, 1)
	assert.Equal(t, "local", rooms[0].RoomId)
}

func TestGetArchivedEvents_UsesLiveEpoch(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("OpenRoomEpoch", mock.Anything, mock.Anything).Return(nil)
	mockCache.On("SetRoomInfo", mock.Anything, mock.Anything).Return(nil).Maybe()
	snap, _, err := svc.Relay.Connect("alice", "r1")
	require.NoError(t, err)

	archived := []models.SessionEvent{{RoomId: "r1", Epoch: snap.Epoch, Sequence: 1, Type: models.EventJoin}}
	mockStore.On("GetRoomEvents", ctx, "r1", snap.Epoch, uint64(0), service.MaxArchivePageSize).Return(archived, nil).Once()

	page, err := svc.GetArchivedEvents(ctx, service.ArchiveQuery{RoomId: "r1", Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, snap.Epoch, page.Epoch)
	assert.Equal(t, archived, page.Events)
}

func TestGetArchivedEvents_PicksLatestStoredEpoch(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetRoomEpochs", ctx, "gone").Return([]models.RoomEpoch{
		{RoomId: "gone", Epoch: "old", Opened: 100, Closed: 200},
		{RoomId: "gone", Epoch: "new", Opened: 300, Closed: 400},
	}, nil).Once()
	mockStore.On("GetRoomEvents", ctx, "gone", "new", uint64(10), service.DefaultArchivePageSize).Return([]models.SessionEvent{}, nil).Once()

	page, err := svc.GetArchivedEvents(ctx, service.ArchiveQuery{RoomId: "gone", After: 10})
	require.NoError(t, err)
	assert.Equal(t, "new", page.Epoch)
}

func TestGetArchivedEvents_UnknownRoom(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetRoomEpochs", ctx, "nope").Return([]models.RoomEpoch{}, nil).Once()

	_, err := svc.GetArchivedEvents(ctx, service.ArchiveQuery{RoomId: "nope"})
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestGetRoomStats(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	stats := models.RoomStats{RoomId: "r1", Draws: 7}
	mockStore.On("GetRoomStats", ctx, "r1").Return(stats, nil).Once()

	got, err := svc.GetRoomStats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stats, got)
}

func TestRunDirectorySync_RefreshesLiveRooms(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)

	mockStore.On("OpenRoomEpoch", mock.Anything, mock.Anything).Return(nil)
	opened := wrapMockWithSignal(mockCache.On("SetRoomInfo", mock.Anything, mock.Anything).Return(nil).Once())
	_, _, err := svc.Relay.Connect("alice", "r1")
	require.NoError(t, err)
	waitFor(t, opened, "initial directory update")

	refreshed := wrapMockWithSignal(mockCache.On("SetRoomInfo", mock.Anything, mock.MatchedBy(func(info models.RoomInfo) bool {
		return info.RoomId == "r1"
	})).Return(nil).Once())
	mockCache.On("SetRoomInfo", mock.Anything, mock.Anything).Return(nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunDirectorySync(ctx, 10*time.Millisecond)

	waitFor(t, refreshed, "directory refresh")
}
