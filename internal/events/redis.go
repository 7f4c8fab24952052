package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 发布通道的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher 通过 Redis PUBLISH 广播事件。
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher 创建 Redis 发布者并检测连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisPublisher(client, cfg.Channel), nil
}

func newRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "pixelboard:events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish 实现 Publisher。
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅频道直到 ctx 结束，无法解析的消息会被跳过。
func (p *RedisPublisher) Subscribe(ctx context.Context, handler Handler) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			_ = handler(ctx, evt)
		}
	}
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
