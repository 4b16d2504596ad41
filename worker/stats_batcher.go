package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/store"
)

// StatsBatcher folds per-room activity counts and flushes them as increments.
type StatsBatcher struct {
	UpdateCh           chan models.RoomStats
	sessionStore       store.SessionStore
	tickerMilliseconds int
}

func NewStatsBatcher(sessionStore store.SessionStore, tickerMilliseconds int) *StatsBatcher {
	return &StatsBatcher{
		UpdateCh:           make(chan models.RoomStats, 1024),
		sessionStore:       sessionStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

// StatsFor reports the counter delta an archived event contributes.
func StatsFor(ev models.SessionEvent) (models.RoomStats, bool) {
	delta := models.RoomStats{RoomId: ev.RoomId}
	switch {
	case ev.Type == models.EventDraw:
		delta.Draws = 1
	case ev.Type == models.EventClearCanvas:
		delta.Clears = 1
	case ev.Type.IsPlayback():
		delta.PlaybackCommands = 1
	default:
		return delta, false
	}
	return delta, true
}

// Add never blocks; a full buffer loses the delta.
func (b *StatsBatcher) Add(delta models.RoomStats) {
	select {
	case b.UpdateCh <- delta:
	default:
		log.Warn().Str("module", "worker.stats").Str("roomId", delta.RoomId).Msg("stats buffer full, delta dropped")
	}
}

func (b *StatsBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	roomStats := make(map[string]models.RoomStats)

	flush := func() {
		for roomId, delta := range roomStats {
			if delta.IsZero() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.sessionStore.IncrementRoomStats(ctx, delta); err != nil {
				log.Error().Str("module", "worker.stats").Str("roomId", roomId).Err(err).Msg("failed to update room stats")
			}
			cancel()
		}
		clear(roomStats)
	}

	for {
		select {
		case delta := <-b.UpdateCh:
			accumulate(roomStats, delta)
			if len(roomStats) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			for drained := false; !drained; {
				select {
				case delta := <-b.UpdateCh:
					accumulate(roomStats, delta)
				default:
					drained = true
				}
			}
			flush()
			return
		}
	}
}

func accumulate(roomStats map[string]models.RoomStats, delta models.RoomStats) {
	cur := roomStats[delta.RoomId]
	cur.RoomId = delta.RoomId
	roomStats[delta.RoomId] = cur.Add(delta)
}
