package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/store"
)

const (
	eventBatchSize = 25
	// Events kept for retry after failed writes before the oldest are dropped.
	maxPendingEvents = 1000
)

// EventBatcher archives sequenced events. Enqueue never blocks, so the relay's
// sequencing step is never held up by storage.
type EventBatcher struct {
	WriteCh            chan models.SessionEvent
	sessionStore       store.SessionStore
	statsBatcher       *StatsBatcher
	tickerMilliseconds int
}

func NewEventBatcher(sessionStore store.SessionStore, tickerMilliseconds int, statsBatcher *StatsBatcher) *EventBatcher {
	return &EventBatcher{
		WriteCh:            make(chan models.SessionEvent, 4096), // buffer to absorb bursts
		sessionStore:       sessionStore,
		statsBatcher:       statsBatcher,
		tickerMilliseconds: tickerMilliseconds,
	}
}

// Enqueue hands ev to the batcher, dropping it if the buffer is full.
func (b *EventBatcher) Enqueue(ev models.SessionEvent) bool {
	select {
	case b.WriteCh <- ev:
		return true
	default:
		log.Warn().Str("module", "worker.events").Str("roomId", ev.RoomId).Uint64("sequence", ev.Sequence).
			Msg("archive buffer full, event not archived")
		return false
	}
}

func (b *EventBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]models.SessionEvent, 0, eventBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not tied to shutdownCtx: pending writes should finish on shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.sessionStore.WriteEventBatch(ctx, batch)
		if err != nil {
			log.Error().Str("module", "worker.events").Err(err).Int("batch", len(batch)).
				Int("unprocessed", len(unprocessed)).Msg("error writing event batch")
		}

		failed := make(map[string]bool, len(unprocessed))
		for _, u := range unprocessed {
			failed[archiveKey(u)] = true
		}

		for _, ev := range batch {
			if failed[archiveKey(ev)] {
				continue
			}
			if b.statsBatcher != nil {
				if delta, ok := StatsFor(ev); ok {
					b.statsBatcher.Add(delta)
				}
			}
		}

		if len(unprocessed) > maxPendingEvents {
			log.Error().Str("module", "worker.events").Int("dropped", len(unprocessed)-maxPendingEvents).
				Msg("archive retry backlog full, dropping oldest events")
			unprocessed = unprocessed[len(unprocessed)-maxPendingEvents:]
		}
		batch = append(batch[:0], unprocessed...)
	}

	for {
		select {
		case ev := <-b.WriteCh:
			batch = append(batch, ev)
			if len(batch) >= eventBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			for drained := false; !drained; {
				select {
				case ev := <-b.WriteCh:
					batch = append(batch, ev)
				default:
					drained = true
				}
			}
			pending := len(batch)
			flush()
			if len(batch) > 0 {
				log.Error().Str("module", "worker.events").Int("pending", pending).Int("lost", len(batch)).
					Msg("events not archived at shutdown")
			}
			return
		}
	}
}

func archiveKey(ev models.SessionEvent) string {
	return ev.RoomId + "#" + ev.Epoch + "#" + ev.Id
}
