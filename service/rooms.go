package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/mq"
	"github.com/Suraj08832/collabstudy/store"
)

// EventAccepted hands every sequenced event to the archive. It runs under the
// room lock, so the hand-off never blocks.
func (s *Service) EventAccepted(ev models.SessionEvent) {
	if s.EventBatcher == nil {
		return
	}
	if !s.EventBatcher.Enqueue(ev) {
		log.Warn().Str("module", "service").Str("roomId", ev.RoomId).Uint64("seq", ev.Sequence).Msg("archive backlog full, event not archived")
	}
}

// RoomOpened records the new incarnation and publishes it to the room
// directory. It runs after the opening join was sequenced, so the archive may
// already hold that join when the epoch row is written.
func (s *Service) RoomOpened(info models.RoomInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := s.Store.OpenRoomEpoch(ctx, models.RoomEpoch{
		RoomId: info.RoomId,
		Epoch:  info.Epoch,
		Opened: info.Updated,
	})
	if err != nil {
		log.Error().Str("module", "service").Str("roomId", info.RoomId).Str("epoch", info.Epoch).Err(err).Msg("open room epoch failed")
	}

	if s.Cache == nil {
		return
	}
	go func() {
		if err := s.Cache.SetRoomInfo(context.Background(), info); err != nil {
			log.Warn().Str("module", "service").Str("roomId", info.RoomId).Err(err).Msg("room directory update failed")
		}
	}()
}

// RoomClosed removes the room from the directory and queues its retention job.
func (s *Service) RoomClosed(info models.RoomInfo) {
	// Async side-effects - the relay must not wait on the network
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		if s.Cache != nil {
			if err := s.Cache.RemoveRoomInfo(ctx, info.RoomId); err != nil {
				log.Warn().Str("module", "service").Str("roomId", info.RoomId).Err(err).Msg("room directory removal failed")
			}
		}

		if s.MQ == nil {
			err := s.Store.CloseRoomEpoch(ctx, models.RoomEpoch{
				RoomId:       info.RoomId,
				Epoch:        info.Epoch,
				Closed:       info.Updated,
				LastSequence: info.Sequence,
			})
			if err != nil && !errors.Is(err, store.ErrItemNotFound) {
				log.Error().Str("module", "service").Str("roomId", info.RoomId).Err(err).Msg("close room epoch failed")
			}
			return
		}

		msg, err := mq.NewRoomClosedMessage(info)
		if err != nil {
			log.Error().Str("module", "service").Str("roomId", info.RoomId).Err(err).Msg("encode room closed message failed")
			return
		}
		if err := s.MQ.Send(ctx, msg); err != nil {
			log.Error().Str("module", "service").Str("roomId", info.RoomId).Err(err).Msg("send room closed message failed")
		}
	}()
}

// RunDirectorySync refreshes this instance's rooms in the directory so they
// are not pruned as stale while they stay open.
func (s *Service) RunDirectorySync(shutdownCtx context.Context, interval time.Duration) {
	if s.Cache == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdownCtx.Done():
			return
		case <-ticker.C:
			for _, info := range s.Relay.Rooms() {
				if err := s.Cache.SetRoomInfo(shutdownCtx, info); err != nil {
					log.Warn().Str("module", "service").Str("roomId", info.RoomId).Err(err).Msg("room directory refresh failed")
				}
			}
		}
	}
}

// ListRooms prefers the shared directory and falls back to the local relay.
func (s *Service) ListRooms(ctx context.Context) []models.RoomInfo {
	if s.Cache != nil {
		rooms, err := s.Cache.ListRooms(ctx)
		if err == nil {
			return rooms
		}
		log.Warn().Str("module", "service").Err(err).Msg("room directory unavailable, listing local rooms")
	}
	return s.Relay.Rooms()
}

func (s *Service) GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error) {
	return s.Store.GetRoomStats(ctx, roomId)
}

const (
	DefaultArchivePageSize = 500
	MaxArchivePageSize     = 1000
)

type ArchiveQuery struct {
	RoomId string
	Epoch  string
	After  uint64
	Limit  int
}

type ArchivePage struct {
	RoomId string                `json:"roomId"`
	Epoch  string                `json:"epoch"`
	Events []models.SessionEvent `json:"events"`
}

// GetArchivedEvents pages through the archive of one room incarnation. With no
// epoch it reads the live incarnation, or the most recent archived one.
func (s *Service) GetArchivedEvents(ctx context.Context, q ArchiveQuery) (ArchivePage, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultArchivePageSize
	}
	q.Limit = min(q.Limit, MaxArchivePageSize)

	if q.Epoch == "" {
		epoch, err := s.currentEpoch(ctx, q.RoomId)
		if err != nil {
			return ArchivePage{}, err
		}
		q.Epoch = epoch
	}

	events, err := s.Store.GetRoomEvents(ctx, q.RoomId, q.Epoch, q.After, q.Limit)
	if err != nil {
		return ArchivePage{}, err
	}
	return ArchivePage{RoomId: q.RoomId, Epoch: q.Epoch, Events: events}, nil
}

func (s *Service) currentEpoch(ctx context.Context, roomId string) (string, error) {
	if snap, ok := s.Relay.Snapshot(roomId); ok {
		return snap.Epoch, nil
	}

	epochs, err := s.Store.GetRoomEpochs(ctx, roomId)
	if err != nil {
		return "", err
	}
	if len(epochs) == 0 {
		return "", fmt.Errorf("room %s: %w", roomId, store.ErrItemNotFound)
	}

	latest := epochs[0]
	for _, e := range epochs[1:] {
		if e.Opened > latest.Opened {
			latest = e
		}
	}
	return latest.Epoch, nil
}
