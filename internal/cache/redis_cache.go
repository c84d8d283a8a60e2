package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ CarrierIndex = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}

func carrierKey(carrierID string) string {
	return "carrier:" + carrierID
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID, carrierID string, sentAt time.Time) error {
	val := sentValue{
		MessageID: messageID,
		SentAt:    sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, carrierKey(carrierID), b, c.ttl).Err()
}

func (c *RedisCache) LookupCarrier(ctx context.Context, carrierID string) (string, bool, error) {
	raw, err := c.rdb.Get(ctx, carrierKey(carrierID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var val sentValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", false, err
	}
	if val.MessageID == "" {
		return "", false, nil
	}
	return val.MessageID, true, nil
}
