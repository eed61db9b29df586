// Package publisher pushes fresh forecasts to Redis: one pub/sub message
// per forecast plus a latest-forecast key with a TTL.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
)

// Publisher delivers forecasts to consumers.
type Publisher interface {
	Publish(ctx context.Context, forecasts []models.SailingForecast) error
	Close() error
}

// New returns a Redis publisher, or a no-op one when no URL is configured.
func New(cfg config.RedisConfig) (Publisher, error) {
	if cfg.URL == "" {
		return NoOp{}, nil
	}
	return NewRedis(cfg)
}

// NoOp discards forecasts.
type NoOp struct{}

func (NoOp) Publish(context.Context, []models.SailingForecast) error { return nil }
func (NoOp) Close() error                                            { return nil }

// Redis publishes forecasts through a go-redis client.
type Redis struct {
	redis   *redis.Client
	channel string
	prefix  string
	ttl     time.Duration
	log     *slog.Logger
}

// NewRedis connects to cfg.URL and verifies the connection.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, cfg.Channel, cfg.KeyPrefix, cfg.ForecastTTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, channel, prefix string, ttl time.Duration) *Redis {
	return &Redis{redis: client, channel: channel, prefix: prefix, ttl: ttl, log: logger.WithComponent("publisher")}
}

func (p *Redis) Close() error { return p.redis.Close() }

// Key returns the latest-forecast key for a sailing.
func (p *Redis) Key(k models.SailingKey) string {
	return p.prefix + k.String()
}

// Publish writes every forecast in one transaction pipeline.
func (p *Redis) Publish(ctx context.Context, forecasts []models.SailingForecast) error {
	if len(forecasts) == 0 {
		return nil
	}
	pipe := p.redis.TxPipeline()
	for _, f := range forecasts {
		body, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal forecast %s: %w", f.Key(), err)
		}
		pipe.Set(ctx, p.Key(f.Key()), body, p.ttl)
		pipe.Publish(ctx, p.channel, body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordPublish("error")
		return fmt.Errorf("publish forecasts: %w", err)
	}
	metrics.RecordPublish("success")
	p.log.Debug("Published forecasts", "count", len(forecasts), "channel", p.channel)
	return nil
}

// Latest returns the cached forecast for a sailing, or nil when the key
// expired or was never written.
func (p *Redis) Latest(ctx context.Context, k models.SailingKey) (*models.SailingForecast, error) {
	body, err := p.redis.Get(ctx, p.Key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", k, err)
	}
	var f models.SailingForecast
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return &f, nil
}
