package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cardvault/marketplace-backend/pkg/instance"
)

// Lock guards a maintenance cycle across cron-worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// RedisLock is a SETNX lease carrying an owner token, so a replica whose
// lease expired mid-cycle cannot delete the next holder's key.
type RedisLock struct {
	store lockStore
	key   string
	lease time.Duration
	token string
}

func NewRedisLock(store lockStore, name string, lease time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis store required")
	}
	if name == "" {
		return nil, errors.New("lock name required")
	}
	if lease <= 0 {
		return nil, errors.New("lock lease must be positive")
	}
	return &RedisLock{store: store, key: store.LockKey(name), lease: lease}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := instance.GetID() + ":" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.lease)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	holder, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", l.key, err)
	case holder != token:
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
