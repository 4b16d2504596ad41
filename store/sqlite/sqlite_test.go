package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/store"
	"github.com/Suraj08832/collabstudy/store/sqlite"
)

func setupStore(t *testing.T) *sqlite.SQLiteSessionStore {
	t.Helper()
	s, err := sqlite.NewSQLiteSessionStore(context.Background(), filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drawAt(roomId string, epoch string, seq uint64) models.SessionEvent {
	return models.SessionEvent{
		Id:            "id",
		RoomId:        roomId,
		Epoch:         epoch,
		ParticipantId: "A",
		Sequence:      seq,
		Timestamp:     int64(seq) * 10,
		Type:          models.EventDraw,
		Segment: &models.StrokeSegment{
			ParticipantId: "A",
			From:          models.Point{X: 0.1, Y: 0.2},
			To:            models.Point{X: 0.3, Y: 0.4},
			Color:         "#00ff00",
			Width:         2,
			Sequence:      seq,
		},
	}
}

func TestEvents_WriteAndPage(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var batch []models.SessionEvent
	for seq := uint64(1); seq <= 10; seq++ {
		batch = append(batch, drawAt("r1", "e1", seq))
	}
	batch = append(batch, drawAt("r1", "e2", 1))

	unprocessed, err := s.WriteEventBatch(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	all, err := s.GetRoomEvents(ctx, "r1", "e1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, batch[0], all[0])

	page, err := s.GetRoomEvents(ctx, "r1", "e1", 7, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(8), page[0].Sequence)
	assert.Equal(t, uint64(9), page[1].Sequence)

	// Rewriting the same sequence is idempotent.
	_, err = s.WriteEventBatch(ctx, batch[:1])
	require.NoError(t, err)
	all, err = s.GetRoomEvents(ctx, "r1", "e1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestEpochs_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.CloseRoomEpoch(ctx, models.RoomEpoch{RoomId: "r1", Epoch: "missing", Closed: 5})
	assert.ErrorIs(t, err, store.ErrItemNotFound)

	require.NoError(t, s.OpenRoomEpoch(ctx, models.RoomEpoch{RoomId: "r1", Epoch: "e2", Opened: 200}))
	require.NoError(t, s.OpenRoomEpoch(ctx, models.RoomEpoch{RoomId: "r1", Epoch: "e1", Opened: 100}))
	require.NoError(t, s.OpenRoomEpoch(ctx, models.RoomEpoch{RoomId: "r1", Epoch: "e1", Opened: 999}))
	require.NoError(t, s.CloseRoomEpoch(ctx, models.RoomEpoch{RoomId: "r1", Epoch: "e1", Closed: 150, LastSequence: 3}))

	epochs, err := s.GetRoomEpochs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, models.RoomEpoch{RoomId: "r1", Epoch: "e1", Opened: 100, Closed: 150, LastSequence: 3}, epochs[0])
	assert.Equal(t, "e2", epochs[1].Epoch)

	_, err = s.WriteEventBatch(ctx, []models.SessionEvent{drawAt("r1", "e1", 1), drawAt("r1", "e2", 1)})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRoomEpoch(ctx, "r1", "e1"))

	events, err := s.GetRoomEvents(ctx, "r1", "e1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	events, err = s.GetRoomEvents(ctx, "r1", "e2", 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	epochs, err = s.GetRoomEpochs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, epochs, 1)
	assert.Equal(t, "e2", epochs[0].Epoch)
}

func TestStats_Accumulate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	stats, err := s.GetRoomStats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStats{RoomId: "r1"}, stats)

	require.NoError(t, s.IncrementRoomStats(ctx, models.RoomStats{RoomId: "r1", Draws: 3, Clears: 1}))
	require.NoError(t, s.IncrementRoomStats(ctx, models.RoomStats{RoomId: "r1", Draws: 2, PlaybackCommands: 4}))
	require.NoError(t, s.IncrementRoomStats(ctx, models.RoomStats{RoomId: "r1"}))

	stats, err = s.GetRoomStats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStats{RoomId: "r1", Draws: 5, Clears: 1, PlaybackCommands: 4}, stats)
}
