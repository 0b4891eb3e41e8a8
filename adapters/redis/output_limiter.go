package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/config"
)

const (
	keyPrefix = "voicectl:output"
	// Counters outlive their day so late writes near midnight still expire.
	counterTTL = 48 * time.Hour
)

// OutputLimiter counts assistant output characters per device per day.
type OutputLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

var _ repositories.OutputLimiter = (*OutputLimiter)(nil)

// NewOutputLimiter connects to Redis and verifies the connection.
func NewOutputLimiter(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*OutputLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Output limiter connected to Redis", zap.String("addr", cfg.Addr))
	return &OutputLimiter{client: client, logger: logger}, nil
}

// Exceeded reports whether the device has used its quota for day.
func (l *OutputLimiter) Exceeded(ctx context.Context, deviceID string, limit int, day time.Time) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	used, err := l.Used(ctx, deviceID, day)
	if err != nil {
		return false, err
	}
	return used >= limit, nil
}

// Used returns the characters counted for the device on day.
func (l *OutputLimiter) Used(ctx context.Context, deviceID string, day time.Time) (int, error) {
	n, err := l.client.Get(ctx, counterKey(deviceID, day)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read output counter: %w", err)
	}
	return n, nil
}

// Add counts n output characters against the device for day.
func (l *OutputLimiter) Add(ctx context.Context, deviceID string, n int, day time.Time) error {
	if n <= 0 {
		return nil
	}
	key := counterKey(deviceID, day)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(n))
		pipe.Expire(ctx, key, counterTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update output counter: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (l *OutputLimiter) Close() error {
	return l.client.Close()
}

func counterKey(deviceID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, deviceID, day.Format(time.DateOnly))
}
