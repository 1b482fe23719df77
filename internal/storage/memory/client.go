package memory

import (
	"context"
	"sync"
	"time"

	"github.com/messenger/chansync/internal/storage"
)

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	consent map[string]item
}

var _ storage.ConsentStore = (*Client)(nil)

// New создаёт хранилище в памяти. ttl <= 0 — storage.DefaultConsentTTL.
func New(ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = storage.DefaultConsentTTL
	}
	return &Client{ttl: ttl, now: time.Now, consent: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetConsentID(ctx context.Context, gid, consentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consent[gid] = item{val: consentID, exp: c.now().Add(c.ttl)}
	return nil
}

func (c *Client) GetConsentID(ctx context.Context, gid string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.consent[gid]
	if !ok || c.now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) ClearConsentID(ctx context.Context, gid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consent, gid)
	return nil
}
