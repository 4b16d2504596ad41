package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
)

type RedisSessionCache struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisSessionCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisSessionCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewRedisSessionCacheFromClient(client), nil
}

func NewRedisSessionCacheFromClient(client redis.UniversalClient) *RedisSessionCache {
	return &RedisSessionCache{client: client, now: time.Now}
}

func (redisCache *RedisSessionCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisSessionCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

func (redisCache *RedisSessionCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Warn().Str("module", "cache.redis").Str("channel", channel).Err(err).Msg("pubsub subscribe failed")
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn().Str("module", "cache.redis").Str("channel", channel).Msg("pubsub channel closed")
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// The room directory uses the split index/data pattern: a ZSet of room ids
// scored by last update for ordering and expiry, and a Hash of room id to
// JSON summary. Entries not refreshed within roomStaleAfter are pruned on read,
// which drops rooms of instances that died without cleaning up.
const (
	roomIndexKey   = "rooms:{active}"
	roomDataKey    = "rooms:{active}:data"
	roomStaleAfter = 10 * time.Minute
)

func buildRevokedKey(participantId string) string {
	return "participant:{" + participantId + "}:revoked"
}

func (redisCache *RedisSessionCache) SetRoomInfo(ctx context.Context, info models.RoomInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	score := info.Updated
	if score == 0 {
		score = redisCache.now().UnixMilli()
	}

	pipe := redisCache.client.TxPipeline()
	pipe.ZAdd(ctx, roomIndexKey, redis.Z{Score: float64(score), Member: info.RoomId})
	pipe.HSet(ctx, roomDataKey, info.RoomId, data)
	_, err = pipe.Exec(ctx)
	return err
}

func (redisCache *RedisSessionCache) RemoveRoomInfo(ctx context.Context, roomId string) error {
	pipe := redisCache.client.TxPipeline()
	pipe.ZRem(ctx, roomIndexKey, roomId)
	pipe.HDel(ctx, roomDataKey, roomId)
	_, err := pipe.Exec(ctx)
	return err
}

// ListRooms returns live rooms, most recently updated first.
func (redisCache *RedisSessionCache) ListRooms(ctx context.Context) ([]models.RoomInfo, error) {
	cutoff := redisCache.now().Add(-roomStaleAfter).UnixMilli()

	stale, err := redisCache.client.ZRangeByScore(ctx, roomIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		pipe := redisCache.client.TxPipeline()
		pipe.ZRem(ctx, roomIndexKey, toMembers(stale)...)
		pipe.HDel(ctx, roomDataKey, stale...)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	ids, err := redisCache.client.ZRevRange(ctx, roomIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.RoomInfo{}, nil
	}

	values, err := redisCache.client.HMGet(ctx, roomDataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	rooms := make([]models.RoomInfo, 0, len(ids))
	for _, item := range values {
		s, ok := item.(string)
		if !ok {
			continue
		}
		var info models.RoomInfo
		if err := json.Unmarshal([]byte(s), &info); err != nil {
			log.Warn().Str("module", "cache.redis").Err(err).Msg("skipping malformed room entry")
			continue
		}
		rooms = append(rooms, info)
	}
	return rooms, nil
}

func (redisCache *RedisSessionCache) MarkRevoked(ctx context.Context, participantId string, ttl time.Duration) error {
	return redisCache.client.Set(ctx, buildRevokedKey(participantId), "1", ttl).Err()
}

func (redisCache *RedisSessionCache) IsRevoked(ctx context.Context, participantId string) (bool, error) {
	err := redisCache.client.Get(ctx, buildRevokedKey(participantId)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func toMembers(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
