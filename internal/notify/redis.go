package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	xerrors "MNEE-Nexus/internal/errors"
)

// RedisConfig describes the Redis pub/sub publisher.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	Channel    string
	HistoryKey string
	HistoryLen int64
}

// RedisPublisher publishes each entry on a channel and optionally keeps a
// capped history list, newest first, for late joiners.
type RedisPublisher struct {
	client     redis.Cmdable
	closer     func() error
	channel    string
	historyKey string
	historyLen int64
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	p := newRedisPublisher(client, cfg)
	p.closer = client.Close
	return p, nil
}

func newRedisPublisher(client redis.Cmdable, cfg RedisConfig) *RedisPublisher {
	channel := cfg.Channel
	if channel == "" {
		channel = "nexus:feed"
	}
	return &RedisPublisher{
		client:     client,
		channel:    channel,
		historyKey: cfg.HistoryKey,
		historyLen: cfg.HistoryLen,
	}
}

// Publish sends the entry as JSON.
func (p *RedisPublisher) Publish(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化通知失败")
	}
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, payload)
	if p.historyKey != "" {
		pipe.LPush(ctx, p.historyKey, payload)
		if p.historyLen > 0 {
			pipe.LTrim(ctx, p.historyKey, 0, p.historyLen-1)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布通知失败",
			xerrors.WithMetadata("channel", p.channel))
	}
	return nil
}

// Close closes the underlying client when the publisher owns it.
func (p *RedisPublisher) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}
