package dynamo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/store"
)

const deleteThrottle = 100 * time.Millisecond

type DynamoSessionStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoSessionStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoSessionStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	if err := checkTable(ctx, client, tableName); err != nil {
		return nil, err
	}
	log.Info().Str("module", "store.dynamo").Str("table", tableName).Msg("session store ready")

	return &DynamoSessionStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoSessionStore) OpenRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error {
	_, created, err := ensureItem(dynamoStore, ctx, epochToDynamo(epoch))
	if err != nil {
		return err
	}
	if !created {
		log.Debug().Str("module", "store.dynamo").Str("roomId", epoch.RoomId).Str("epoch", epoch.Epoch).
			Msg("room epoch already recorded")
	}
	return nil
}

func (dynamoStore *DynamoSessionStore) CloseRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error {
	_, err := updateItem(dynamoStore, ctx, epochToDynamo(epoch), []string{"Closed", "LastSequence"})
	return err
}

func (dynamoStore *DynamoSessionStore) GetRoomEpochs(ctx context.Context, roomId string) ([]models.RoomEpoch, error) {
	items, err := queryByPrefix[dynamoEpoch](dynamoStore, ctx, roomPK(roomId), epochPrefix)
	if err != nil {
		return nil, err
	}

	epochs := make([]models.RoomEpoch, 0, len(items))
	for _, item := range items {
		epochs = append(epochs, epochFromDynamo(item))
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i].Opened < epochs[j].Opened })
	return epochs, nil
}

func (dynamoStore *DynamoSessionStore) WriteEventBatch(ctx context.Context, events []models.SessionEvent) ([]models.SessionEvent, error) {
	var unprocessed []models.SessionEvent

	for start := 0; start < len(events); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(events))

		writeRequests := make([]types.WriteRequest, 0, end-start)
		for _, ev := range events[start:end] {
			avMap, err := attributevalue.MarshalMap(eventToDynamo(ev))
			if err != nil {
				return append(unprocessed, events[start:]...), fmt.Errorf("marshal error: %w", err)
			}
			writeRequests = append(writeRequests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: avMap},
			})
		}

		failed, err := writeBatchRequests[dynamoEvent](dynamoStore, ctx, writeRequests)
		for _, f := range failed {
			unprocessed = append(unprocessed, eventFromDynamo(f))
		}
		if err != nil {
			return append(unprocessed, events[end:]...), err
		}
	}

	return unprocessed, nil
}

func (dynamoStore *DynamoSessionStore) GetRoomEvents(ctx context.Context, roomId string, epoch string, after uint64, limit int) ([]models.SessionEvent, error) {
	if after == math.MaxUint64 {
		return []models.SessionEvent{}, nil
	}
	if limit < 0 || limit > math.MaxInt32 {
		limit = 0
	}

	items, err := queryRange[dynamoEvent](dynamoStore, ctx, roomPK(roomId),
		eventSK(epoch, after+1), eventSK(epoch, math.MaxUint64), int32(limit))
	if err != nil {
		return nil, err
	}

	events := make([]models.SessionEvent, 0, len(items))
	for _, item := range items {
		events = append(events, eventFromDynamo(item))
	}
	return events, nil
}

func (dynamoStore *DynamoSessionStore) DeleteRoomEpoch(ctx context.Context, roomId string, epoch string) error {
	deleted, err := batchDeleteByPrefixThrottled(dynamoStore, ctx, roomPK(roomId), eventSKPrefix(epoch), deleteThrottle)
	if err != nil {
		return err
	}

	err = deleteItemWithCondition(dynamoStore, ctx, roomPK(roomId), epochSK(epoch), "Epoch", epoch)
	if err != nil && !errors.Is(err, store.ErrItemNotFound) {
		return err
	}

	log.Info().Str("module", "store.dynamo").Str("roomId", roomId).Str("epoch", epoch).
		Int("events", deleted).Msg("room epoch deleted")
	return nil
}

func (dynamoStore *DynamoSessionStore) IncrementRoomStats(ctx context.Context, delta models.RoomStats) error {
	return incrementCounters(dynamoStore, ctx, roomPK(delta.RoomId), statsSK, map[string]int{
		"Draws":            delta.Draws,
		"Clears":           delta.Clears,
		"PlaybackCommands": delta.PlaybackCommands,
	})
}

func (dynamoStore *DynamoSessionStore) GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error) {
	ds, err := getItem[dynamoStats](dynamoStore, ctx, roomPK(roomId), statsSK, false)
	if errors.Is(err, store.ErrItemNotFound) {
		return models.RoomStats{RoomId: roomId}, nil
	}
	if err != nil {
		return models.RoomStats{}, err
	}
	return statsFromDynamo(ds), nil
}
