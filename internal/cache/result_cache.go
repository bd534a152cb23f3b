package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"mnist-serve/internal/app"
)

// ResultCache stores finished predictions in Redis keyed by the normalized
// tensor fingerprint, so identical canvas submissions skip inference.
type ResultCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewResultCache(client *redisv9.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResultCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ResultCache) Get(ctx context.Context, key string) (*app.PredictionResult, bool, error) {
	raw, err := c.client.Get(ctx, c.resultKey(key)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get prediction failed: %w", err)
	}

	var result app.PredictionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached prediction failed: %w", err)
	}
	return &result, true, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, result *app.PredictionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal prediction cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.resultKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set prediction failed: %w", err)
	}
	return nil
}

func (c *ResultCache) resultKey(fingerprint string) string {
	return "predict:result:" + fingerprint
}
