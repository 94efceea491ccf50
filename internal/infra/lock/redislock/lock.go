// Package redislock provides a Redis-backed mutual exclusion lock so several
// bizdir processes sharing one store never allocate the same identifier.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultKey names the lock guarding identifier allocation.
const DefaultKey = "bizdir:lock:identifier"

const (
	defaultTTL  = 10 * time.Second
	defaultPoll = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config tunes the lock.
type Config struct {
	Key  string
	TTL  time.Duration
	Poll time.Duration
}

// Lock is a SETNX lease with token-checked release.
type Lock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	poll   time.Duration
}

// New constructs a lock on client. Zero config values fall back to defaults.
func New(client redis.UniversalClient, cfg Config) *Lock {
	l := &Lock{client: client, key: cfg.Key, ttl: cfg.TTL, poll: cfg.Poll}
	if l.key == "" {
		l.key = DefaultKey
	}
	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}
	if l.poll <= 0 {
		l.poll = defaultPoll
	}
	return l
}

// Acquire blocks until the lease is held or ctx ends. The returned release
// function only deletes the key while this holder still owns it.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", l.key, err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", l.key, ctx.Err())
		case <-ticker.C:
		}
	}
}
