package feed

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay mirrors the feed to a Redis pub/sub channel so external
// consumers can follow market data without a direct connection.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, log: log}
}

// Run attaches to the hub and republishes until the context ends.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) {
	sub := hub.Attach(nil)
	defer hub.Detach(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
				r.log.Warn("redis publish failed", zap.Error(err))
			}
		}
	}
}
