package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"` // default catalog.published
}

// RedisNotifier publishes published versions on a Redis channel for indexers to consume.
type RedisNotifier struct {
	log     zerolog.Logger
	rdb     goredis.UniversalClient
	channel string
}

func NewRedisNotifier(log zerolog.Logger, rdb goredis.UniversalClient, channel string) *RedisNotifier {
	if strings.TrimSpace(channel) == "" {
		channel = "catalog.published"
	}
	return &RedisNotifier{log: log, rdb: rdb, channel: channel}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Published(ctx context.Context, rec *db.ProductVersion) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis notifier not initialized")
	}
	msg, err := NewMessage(rec)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	raw, err := msg.JSON()
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func redisFactory(log zerolog.Logger, raw json.RawMessage) (Notifier, error) {
	var cfg RedisConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis notifier: addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisNotifier(log, rdb, cfg.Channel), nil
}

func init() {
	Register("redis", redisFactory)
}
