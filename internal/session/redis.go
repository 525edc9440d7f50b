package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sync-client/internal/config"
	"sync-client/internal/models"
)

// changeChannel carries session change signals between clients of the same
// user, the moral equivalent of a cross-tab storage event.
const changeChannel = "session:changed"

// RedisStore is the shared session store. Every mutation publishes on
// changeChannel so sibling processes reconcile without waiting for the
// periodic gate tick.
type RedisStore struct {
	client *redis.Client
	keys   Keys
	log    *slog.Logger
}

func NewRedisStore(cfg *config.RedisConfig, keys Keys, log *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("session store connected", "addr", cfg.Addr)

	return &RedisStore{client: rdb, keys: keys, log: log}, nil
}

func (s *RedisStore) Token(ctx context.Context) (string, bool) {
	if tok, ok := s.get(ctx, s.keys.Token); ok {
		return tok, true
	}
	return s.get(ctx, s.keys.LegacyToken)
}

func (s *RedisStore) RefreshToken(ctx context.Context) (string, bool) {
	return s.get(ctx, s.keys.Refresh)
}

func (s *RedisStore) Profile(ctx context.Context) (*models.UserRef, bool) {
	raw, ok := s.get(ctx, s.keys.Profile)
	if !ok {
		return nil, false
	}
	var u models.UserRef
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		s.log.Warn("cached profile is malformed", "error", err)
		return nil, false
	}
	return &u, true
}

func (s *RedisStore) Watch(ctx context.Context) <-chan struct{} {
	sub := s.client.Subscribe(ctx, changeChannel)
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

// SetToken writes the primary token slot. Used by the auth layer and tests.
func (s *RedisStore) SetToken(ctx context.Context, tok string) error {
	if err := s.client.Set(ctx, s.keys.Token, tok, 0).Err(); err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *RedisStore) SetProfile(ctx context.Context, u *models.UserRef) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keys.Profile, data, 0).Err(); err != nil {
		return err
	}
	return s.publish(ctx)
}

// Clear wipes every session slot, the logout transition.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := []string{s.keys.Token, s.keys.LegacyToken, s.keys.Refresh, s.keys.Profile}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("session read failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, val != ""
}

func (s *RedisStore) publish(ctx context.Context) error {
	return s.client.Publish(ctx, changeChannel, "changed").Err()
}
