package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 图片存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore 使用 Redis hash 保存图片，meta 字段为 JSON，data 字段为原始字节。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并创建存储。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
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
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pixelboard:image:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Save 实现 Store。
func (s *RedisStore) Save(ctx context.Context, img Image, data []byte) error {
	meta, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("序列化图片元数据失败: %w", err)
	}
	key := s.key(img.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "meta", meta, "data", data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 保存图片失败: %w", err)
	}
	return nil
}

// Load 实现 Store。
func (s *RedisStore) Load(ctx context.Context, id string) (Image, []byte, error) {
	values, err := s.client.HMGet(ctx, s.key(id), "meta", "data").Result()
	if err != nil {
		return Image{}, nil, fmt.Errorf("Redis 读取图片失败: %w", err)
	}
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return Image{}, nil, ErrNotFound
	}
	metaRaw, _ := values[0].(string)
	dataRaw, _ := values[1].(string)
	var img Image
	if err := json.Unmarshal([]byte(metaRaw), &img); err != nil {
		return Image{}, nil, fmt.Errorf("解析图片元数据失败: %w", err)
	}
	return img, []byte(dataRaw), nil
}

// Stat 实现 Store。
func (s *RedisStore) Stat(ctx context.Context, id string) (Image, error) {
	raw, err := s.client.HGet(ctx, s.key(id), "meta").Bytes()
	if errors.Is(err, redis.Nil) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("Redis 读取图片元数据失败: %w", err)
	}
	var img Image
	if err := json.Unmarshal(raw, &img); err != nil {
		return Image{}, fmt.Errorf("解析图片元数据失败: %w", err)
	}
	return img, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
