// Package file — хранилище согласия в JSON-файле рядом с ключами устройства.
// Аналог браузерной cookie: переживает перезапуск, истекает по TTL.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/messenger/chansync/internal/storage"
)

type entry struct {
	ConsentID string    `json:"consent_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Client struct {
	mu   sync.Mutex
	path string
	ttl  time.Duration
	now  func() time.Time
}

var _ storage.ConsentStore = (*Client)(nil)

func New(path string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = storage.DefaultConsentTTL
	}
	return &Client{path: path, ttl: ttl, now: time.Now}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetConsentID(ctx context.Context, gid, consentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.read()
	if err != nil {
		return err
	}
	all[gid] = entry{ConsentID: consentID, ExpiresAt: c.now().Add(c.ttl)}
	return c.write(all)
}

func (c *Client) GetConsentID(ctx context.Context, gid string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.read()
	if err != nil {
		return "", err
	}
	e, ok := all[gid]
	if !ok || c.now().After(e.ExpiresAt) {
		return "", nil
	}
	return e.ConsentID, nil
}

func (c *Client) ClearConsentID(ctx context.Context, gid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.read()
	if err != nil {
		return err
	}
	if _, ok := all[gid]; !ok {
		return nil
	}
	delete(all, gid)
	return c.write(all)
}

func (c *Client) read() (map[string]entry, error) {
	all := make(map[string]entry)
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consent file read: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("consent file parse: %w", err)
	}
	return all, nil
}

func (c *Client) write(all map[string]entry) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("consent file dir: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("consent file write: %w", err)
	}
	return nil
}
