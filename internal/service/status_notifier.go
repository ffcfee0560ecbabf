package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-status-api/internal/dto"
)

const defaultNotifyTimeout = 3 * time.Second

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes assignment events on a Redis channel. Delivery is fire-and-forget:
// failures are logged and never reach the caller.
type RedisNotifier struct {
	client  publisher
	channel string
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewRedisNotifier constructs a notifier. A nil client drops every event.
func NewRedisNotifier(client publisher, channel string, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "status-assignments"
	}
	return &RedisNotifier{client: client, channel: channel, timeout: defaultNotifyTimeout, logger: logger}
}

// Notify publishes the event in the background.
func (n *RedisNotifier) Notify(ctx context.Context, event dto.AssignmentEvent) {
	if n == nil || n.client == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to encode assignment event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.client.Publish(pubCtx, n.channel, payload).Err(); err != nil {
			n.logger.Warn("failed to publish assignment event",
				zap.String("type", string(event.Type)),
				zap.String("assignment_id", event.AssignmentID),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight publishes.
func (n *RedisNotifier) Close() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
