// Package api — HTTP-клиент бэкенда платформы (HTTPS + bearer-токен).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/messenger/chansync/internal/logger"
)

const maxErrorBody = 4096

// Options — настройки клиента. Нулевые значения заменяются умолчаниями.
type Options struct {
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client вызывает REST API бэкенда. Безопасен для конкурентного использования.
type Client struct {
	baseURL    string
	token      atomic.Value // string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient создаёт клиент. RequestsPerSecond <= 0 — без ограничения темпа.
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: hc,
		limiter:    limiter,
	}
	c.token.Store(opts.Token)
	return c
}

// SetToken меняет bearer-токен (после обновления сессии).
func (c *Client) SetToken(token string) {
	c.token.Store(token)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	_, err := c.call(ctx, method, path, query, in, out)
	return err
}

// call — do с HTTP-статусом успешного ответа. Пустое тело 202 не декодируется.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) (int, error) {
	op := method + " " + path
	defer logger.DeferLogDuration("api "+op, time.Now())()

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("api %s: %w", op, err)
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("api %s: encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("api %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, _ := c.token.Load().(string); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("api %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("api %s: %w", op, decodeError(resp))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode == http.StatusAccepted && errors.Is(err, io.EOF) {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("api %s: decode: %w", op, err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil {
		e.Code = body.Code
		e.Message = body.Error
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}
