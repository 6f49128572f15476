package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier publishes notifications on per-user Redis pub/sub channels.
// The real-time gateway subscribes to `<prefix><userID>` and relays events
// to the user's open connections.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisNotifier constructs a notifier publishing under the given
// channel prefix.
func NewRedisNotifier(client *redis.Client, prefix string, logger *zap.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "notify:user:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger}
}

// Notify implements Notifier. No acknowledgment from subscribers is
// awaited; a publish with zero receivers is still a success.
func (n *RedisNotifier) Notify(ctx context.Context, userID, event string, payload Payload) error {
	if n.client == nil {
		return fmt.Errorf("notify %s: redis client not configured", userID)
	}

	msg := Message{UserID: userID, Event: event, Payload: payload}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification for %s: %w", userID, err)
	}

	channel := n.prefix + userID
	if err := n.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish notification to %s: %w", channel, err)
	}

	n.logger.Debug("notification published",
		zap.String("channel", channel),
		zap.String("event", event),
	)
	return nil
}
