package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/messenger/chansync/internal/storage"
)

const keyPrefix = "consent:"

type Client struct {
	cli *redis.Client
	ttl time.Duration
}

var _ storage.ConsentStore = (*Client)(nil)

func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = storage.DefaultConsentTTL
	}
	return &Client{cli: cli, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetConsentID сохраняет id согласия по ключу consent:{gid} с TTL.
func (c *Client) SetConsentID(ctx context.Context, gid, consentID string) error {
	return c.cli.Set(ctx, keyPrefix+gid, consentID, c.ttl).Err()
}

func (c *Client) GetConsentID(ctx context.Context, gid string) (string, error) {
	val, err := c.cli.Get(ctx, keyPrefix+gid).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) ClearConsentID(ctx context.Context, gid string) error {
	return c.cli.Del(ctx, keyPrefix+gid).Err()
}
