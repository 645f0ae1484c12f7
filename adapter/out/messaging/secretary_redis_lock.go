package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"secretary_server/core/port/out"
)

const (
	sweepLockPrefix = "lock:sweep:"
	processedPrefix = "processed:"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisMailboxLock implements out.MailboxLock with SET NX and a random token.
type RedisMailboxLock struct {
	client *redis.Client
}

func NewRedisMailboxLock(client *redis.Client) *RedisMailboxLock {
	return &RedisMailboxLock{client: client}
}

var _ out.MailboxLock = (*RedisMailboxLock)(nil)

func (l *RedisMailboxLock) Acquire(ctx context.Context, mailbox string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, sweepLockPrefix+mailbox, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (l *RedisMailboxLock) Release(ctx context.Context, mailbox, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{sweepLockPrefix + mailbox}, token).Err(); err != nil {
		return fmt.Errorf("failed to release sweep lock: %w", err)
	}
	return nil
}

// RedisProcessedMarker implements out.ProcessedMarker.
type RedisProcessedMarker struct {
	client *redis.Client
}

func NewRedisProcessedMarker(client *redis.Client) *RedisProcessedMarker {
	return &RedisProcessedMarker{client: client}
}

var _ out.ProcessedMarker = (*RedisProcessedMarker)(nil)

func (m *RedisProcessedMarker) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, processedPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s processed: %w", key, err)
	}
	return ok, nil
}

func (m *RedisProcessedMarker) Clear(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, processedPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}
