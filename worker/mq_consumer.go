package worker

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

type RetentionPolicy string

const (
	// RetentionKeep records the close and keeps the archive.
	RetentionKeep RetentionPolicy = "keep"
	// RetentionPurge deletes the closed incarnation's archived events.
	RetentionPurge RetentionPolicy = "purge"
)

func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch RetentionPolicy(s) {
	case RetentionKeep, "":
		return RetentionKeep, nil
	case RetentionPurge:
		return RetentionPurge, nil
	}
	return "", fmt.Errorf("unknown retention policy %q", s)
}

// MQConsumer applies the retention policy to rooms whose last participant left.
type MQConsumer struct {
	roomClosedQueue mq.MessageQueue
	sessionStore    store.SessionStore
	policy          RetentionPolicy
}

func NewMQConsumer(roomClosedQueue mq.MessageQueue, sessionStore store.SessionStore, policy RetentionPolicy) *MQConsumer {
	return &MQConsumer{
		roomClosedQueue: roomClosedQueue,
		sessionStore:    sessionStore,
		policy:          policy,
	}
}

// Allow up to 5 minutes for the throttled deletion of a large room archive
const visibilityTimeout = 300

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.roomClosedQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error().Str("module", "worker.retention").Err(err).Msg("receive error")
			// Avoid spinning against a broken queue.
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if msg == nil {
			continue
		}

		if err := mqConsumer.HandleMessage(shutdownCtx, msg); err != nil {
			log.Error().Str("module", "worker.retention").Err(err).Msg("room closed message failed, will be redelivered")
			continue
		}

		if err := mqConsumer.roomClosedQueue.Delete(context.Background(), msg); err != nil {
			log.Error().Str("module", "worker.retention").Err(err).Msg("delete message error")
		}
	}
}

// HandleMessage processes one queue message. A nil return means the message
// is done with, including malformed messages that can never succeed.
func (mqConsumer *MQConsumer) HandleMessage(parent context.Context, msg *mq.Message) error {
	rc, err := mq.DecodeRoomClosed(msg)
	if err != nil {
		log.Warn().Str("module", "worker.retention").Err(err).Msg("discarding malformed message")
		return nil
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	err = mqConsumer.sessionStore.CloseRoomEpoch(ctx, epochFromMessage(rc))
	if err != nil && !errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("close room epoch: %w", err)
	}

	if mqConsumer.policy != RetentionPurge {
		return nil
	}

	if err := mqConsumer.sessionStore.DeleteRoomEpoch(ctx, rc.RoomId, rc.Epoch); err != nil {
		return fmt.Errorf("purge room epoch: %w", err)
	}
	log.Info().Str("module", "worker.retention").Str("roomId", rc.RoomId).Str("epoch", rc.Epoch).
		Uint64("lastSequence", rc.LastSequence).Msg("room archive purged")
	return nil
}

func epochFromMessage(rc mq.RoomClosedMessage) models.RoomEpoch {
	return models.RoomEpoch{
		RoomId:       rc.RoomId,
		Epoch:        rc.Epoch,
		Closed:       rc.Closed,
		LastSequence: rc.LastSequence,
	}
}
