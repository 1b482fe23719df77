// Package realtime keeps the channel store in sync with server push events over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/messenger/chansync/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Listener holds one WebSocket session at a time and reconnects with backoff.
// Lifecycle: NewListener -> Run(ctx) until ctx is cancelled.
type Listener struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	applier *Applier

	// pingPeriod and pongWait are fields so tests can shorten them.
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewListener(url, token string, applier *Applier) *Listener {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return &Listener{
		url:        url,
		header:     h,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		applier:    applier,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

// Run connects and applies events until ctx is done. Connection loss is logged and
// retried; only ctx cancellation ends Run.
func (l *Listener) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		started := time.Now()
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// a session that lived long enough resets the backoff
		if time.Since(started) > l.pongWait {
			backoff = minBackoff
		}
		logger.Errorf("realtime: session ended, reconnect in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (l *Listener) session(ctx context.Context) error {
	conn, resp, err := l.dialer.DialContext(ctx, l.url, l.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", l.url, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	logger.Infof("realtime: connected to %s", l.url)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.writePump(gctx, conn) })
	g.Go(func() error { return l.readPump(conn) })
	return g.Wait()
}

// readPump reads events until the connection fails or is closed by writePump.
func (l *Listener) readPump(conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(l.pongWait)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by server")
			}
			return fmt.Errorf("read: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("realtime: unmarshal event: %v", err)
			continue
		}
		if err := l.applier.Apply(ev); err != nil {
			logger.Errorf("realtime: %v", err)
		}
	}
}

// writePump keeps the connection alive with pings. On ctx cancellation it sends a close
// frame; closing the connection unblocks readPump.
func (l *Listener) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(l.pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				logger.Debugf("realtime: close message: %v", err)
			}
			return nil
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
