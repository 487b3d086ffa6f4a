package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// releaseScript deletes the key only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
// ARGV[2] = ttl in milliseconds
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares locks across replicas with SET NX PX. The TTL bounds how
// long a crashed holder can block a key; a live holder keeps extending it
// every ttl/3 for as long as the lock is held.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, poll: 50 * time.Millisecond, prefix: "invite-service:lock:"}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	full := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	held, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(held, cancel, key, full, token)
	}()

	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel()
			<-done
			// Released on a fresh context so a cancelled caller still unlocks.
			releaseCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			if err := releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				log.WithError(err).WithField("key", key).Warn("Failed to release redis lock")
			}
		})
	}, nil
}

// keepAlive extends the key until held is done. It cancels held when the
// key was taken over, or when no extension succeeded for a whole TTL.
func (l *RedisLocker) keepAlive(held context.Context, cancel context.CancelFunc, key, full, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	lastOK := time.Now()

	for {
		select {
		case <-held.Done():
			return
		case <-ticker.C:
		}

		n, err := extendScript.Run(held, l.client, []string{full}, token, l.ttl.Milliseconds()).Int()
		switch {
		case err == nil && n == 1:
			lastOK = time.Now()
		case err == nil:
			log.WithField("key", key).Error("Redis lock lost to another holder")
			cancel()
			return
		case held.Err() != nil:
			return
		default:
			log.WithError(err).WithField("key", key).Warn("Failed to extend redis lock")
			if time.Since(lastOK) >= l.ttl {
				log.WithField("key", key).Error("Redis lock expired before it could be extended")
				cancel()
				return
			}
		}
	}
}
