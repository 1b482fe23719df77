package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/messenger/chansync/internal/logger"
	redisstorage "github.com/messenger/chansync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами до maxWait.
// В отличие от серверных сервисов клиент не падает: вызывающий решает, на что откатиться.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, ttl, maxWait time.Duration) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 500 * time.Millisecond
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(attemptCtx, redisURL, ttl)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}
