package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"farm-access/internal/domain"
)

// RedisChannel is the pub/sub channel reviewer events are published on.
const RedisChannel = "access.requests"

// redisPublisher is the subset of *redis.Client the notifier uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisNotifier publishes reviewer events on a Redis channel.
type RedisNotifier struct {
	client redisPublisher
	logger *slog.Logger
}

// NewRedisNotifier connects to addr and verifies the connection.
func NewRedisNotifier(addr string, logger *slog.Logger) (*RedisNotifier, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis notifier: REDIS_ADDR is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return newRedisNotifier(client, logger), nil
}

func newRedisNotifier(client redisPublisher, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger.With("component", "notifier", "backend", BackendRedis)}
}

// NotifyReviewers publishes req as JSON. Having no subscribers is not an
// error.
func (n *RedisNotifier) NotifyReviewers(ctx context.Context, req domain.AccessRequest) error {
	body, err := encode(req)
	if err != nil {
		return err
	}
	receivers, err := n.client.Publish(ctx, RedisChannel, body).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", RedisChannel, err)
	}
	n.logger.Debug("published reviewer event", "request_id", req.ID, "receivers", receivers)
	return nil
}

// Close closes the client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
