package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"railway-accident-analytics/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Pub/sub channels shared by the API and the daemons.
const (
	ChannelLive        = "railway:live"
	ChannelPredictions = "railway:predictions"
	ChannelDispatches  = "railway:dispatches"
)

// ErrCacheMiss is returned by Get when the key is absent or Redis is unavailable.
var ErrCacheMiss = errors.New("cache miss")

// Event is the envelope published on ChannelLive.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type CacheService struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewCacheService connects to Redis, retrying while the server comes up.
// On failure it still returns a usable service that degrades to no-ops.
func NewCacheService(cfg config.RedisConfig, logger logrus.FieldLogger) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client, log: logger}, nil
		}
		logger.WithError(lastErr).Warnf("redis ping attempt %d/10 failed", i+1)
		time.Sleep(2 * time.Second)
	}
	client.Close()
	return NewDisabledCache(logger), lastErr
}

// NewCacheServiceWithClient wraps an existing client.
func NewCacheServiceWithClient(client *redis.Client, logger logrus.FieldLogger) *CacheService {
	return &CacheService{client: client, log: logger}
}

// NewDisabledCache returns a cache whose operations are no-ops.
func NewDisabledCache(logger logrus.FieldLogger) *CacheService {
	return &CacheService{log: logger}
}

func (s *CacheService) Client() *redis.Client {
	return s.client
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if !s.Available() {
		return ErrCacheMiss
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// DeletePrefix removes every key starting with prefix.
func (s *CacheService) DeletePrefix(ctx context.Context, prefix string) error {
	if !s.Available() {
		return nil
	}
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message interface{}) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// PublishEvent wraps data in an Event and publishes it on ChannelLive.
// Failures are logged, not returned.
func (s *CacheService) PublishEvent(ctx context.Context, eventType string, data interface{}) {
	err := s.Publish(ctx, ChannelLive, Event{Type: eventType, Data: data, At: time.Now().UTC()})
	if err != nil {
		s.log.WithError(err).WithField("event", eventType).Warn("redis publish failed")
	}
}

// Subscribe returns nil when Redis is unavailable.
func (s *CacheService) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if !s.Available() {
		return nil
	}
	return s.client.Subscribe(ctx, channels...)
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}
