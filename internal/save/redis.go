package save

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"questline/internal/domain"
)

const (
	redisKeyPrefix  = "questline:save:"
	redisDefaultTTL = 30 * 24 * time.Hour
)

// RedisStore keeps saves as JSON values under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisStoreConfig struct {
	// Prefix defaults to "questline:save:".
	Prefix string
	// TTL of zero keeps the default; negative disables expiry.
	TTL time.Duration
}

func NewRedisStore(client *redis.Client, cfg RedisStoreConfig) *RedisStore {
	s := &RedisStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
	if s.prefix == "" {
		s.prefix = redisKeyPrefix
	}
	switch {
	case s.ttl == 0:
		s.ttl = redisDefaultTTL
	case s.ttl < 0:
		s.ttl = 0
	}
	return s
}

// Connect dials addr and pings it with exponential backoff before returning.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logrus.Warnf("redis connection failed: %v, retrying...", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		client.Close()
		return nil, domain.WrapError(domain.CodeIO, err, "connect redis %s", addr)
	}
	logrus.WithField("addr", addr).Info("redis client initialized")
	return client, nil
}

func (s *RedisStore) key(dest string) string {
	return fmt.Sprintf("%s%s", s.prefix, dest)
}

func (s *RedisStore) Save(ctx context.Context, state domain.PlayerState, dest string) error {
	data, err := Encode(state, FormatJSON)
	if err != nil {
		return domain.WrapError(domain.CodeIO, err, "encode save")
	}
	if err := s.client.Set(ctx, s.key(dest), data, s.ttl).Err(); err != nil {
		logrus.Errorf("failed to store save %s: %v", dest, err)
		return domain.WrapError(domain.CodeIO, err, "store save %s", dest)
	}
	logrus.WithFields(logrus.Fields{"key": s.key(dest), "ttl": s.ttl}).Debug("progress saved")
	return nil
}

func (s *RedisStore) Load(ctx context.Context, src string) (domain.PlayerState, error) {
	data, err := s.client.Get(ctx, s.key(src)).Bytes()
	if err == redis.Nil {
		return domain.PlayerState{}, domain.NewError(domain.CodeIO, "no save at %s", src)
	}
	if err != nil {
		return domain.PlayerState{}, domain.WrapError(domain.CodeIO, err, "fetch save %s", src)
	}
	return Decode(data, FormatJSON)
}

// Delete removes a save. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, dest string) error {
	if err := s.client.Del(ctx, s.key(dest)).Err(); err != nil {
		return domain.WrapError(domain.CodeIO, err, "delete save %s", dest)
	}
	return nil
}
