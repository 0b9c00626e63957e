package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	statusKeyPrefix = "drp:status:" // Latest status per stage and visit (drp:status:{stage}:{visit})
	statusChannel   = "drp:status"  // Pub/sub channel of every emitted status
	statusTTL       = 7 * 24 * time.Hour
)

// StatusRepository caches the latest status lines and fans them out
type StatusRepository struct {
	redis *redis.Client
}

// NewStatusRepository creates status repository
func NewStatusRepository(redisClient *RedisClient) *StatusRepository {
	return &StatusRepository{
		redis: redisClient.GetClient(),
	}
}

func statusKey(stage string, visit int) string {
	return fmt.Sprintf("%s%s:%d", statusKeyPrefix, stage, visit)
}

// SetLatest stores the line as the latest of its (stage, visit)
func (r *StatusRepository) SetLatest(ctx context.Context, line model.StatusLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := r.redis.Set(ctx, statusKey(line.Stage, line.Visit), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// GetLatest returns the latest line of (stage, visit), nil when none
func (r *StatusRepository) GetLatest(ctx context.Context, stage string, visit int) (*model.StatusLine, error) {
	data, err := r.redis.Get(ctx, statusKey(stage, visit)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var line model.StatusLine
	if err := json.Unmarshal([]byte(data), &line); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &line, nil
}

// Publish broadcasts the line to every subscriber
func (r *StatusRepository) Publish(ctx context.Context, line model.StatusLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return r.redis.Publish(ctx, statusChannel, data).Err()
}

// Subscribe returns a channel of published lines and a cancel func
func (r *StatusRepository) Subscribe(ctx context.Context) (<-chan model.StatusLine, func(), error) {
	sub := r.redis.Subscribe(ctx, statusChannel)
	// Wait for the subscription to be confirmed so no publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan model.StatusLine, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var line model.StatusLine
			if err := json.Unmarshal([]byte(msg.Payload), &line); err != nil {
				logger.WarnCtx(ctx, "dropping malformed status message: %v", err)
				continue
			}
			select {
			case out <- line:
			default:
				logger.WarnCtx(ctx, "status subscriber too slow, dropping %s", line.Keyword())
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}
