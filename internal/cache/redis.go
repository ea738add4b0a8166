package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/historian/internal/enrich"
)

// RedisHashKey is the hash holding one field per record id.
const RedisHashKey = "historian:ai_summaries"

// RedisBackend stores results in a Redis hash so several historian
// processes can share them.
type RedisBackend struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisBackend connects to url (redis://...) and pings it.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisBackend{client: client, key: RedisHashKey, logger: slog.Default()}, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Load(ctx context.Context, id string) (enrich.Result, bool, error) {
	raw, err := b.client.HGet(ctx, b.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return enrich.Result{}, false, nil
	}
	if err != nil {
		return enrich.Result{}, false, err
	}
	var r enrich.Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		b.logger.Warn("cached result is corrupt, ignoring", "record_id", id, "error", err)
		return enrich.Result{}, false, nil
	}
	return r, true, nil
}

func (b *RedisBackend) Store(ctx context.Context, id string, r enrich.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return b.client.HSet(ctx, b.key, id, string(data)).Err()
}

func (b *RedisBackend) All(ctx context.Context) (map[string]enrich.Result, error) {
	raw, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]enrich.Result, len(raw))
	for id, v := range raw {
		var r enrich.Result
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			b.logger.Warn("cached result is corrupt, skipping", "record_id", id, "error", err)
			continue
		}
		out[id] = r
	}
	return out, nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	return b.client.Del(ctx, b.key).Err()
}
