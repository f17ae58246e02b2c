// Package ws owns the persistent realtime connection for one (room, identity)
// pair: it decodes nothing, delivers inbound frames in arrival order, and
// reconnects under a capped exponential backoff policy.
package ws

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
)

var ErrAlreadyConnected = errors.New("realtime connection already running")

type Config struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	ReadLimit   int64
}

func DefaultConfig() Config {
	return Config{
		BackoffBase: 250 * time.Millisecond,
		BackoffCap:  15 * time.Second,
		MaxAttempts: 8,
		ReadLimit:   32768,
	}
}

// EndpointURL builds the per-(room, identity) stream URL: {base}/{room}/{id}.
func EndpointURL(base string, room core.RoomID, identity core.Identity) string {
	return strings.TrimRight(base, "/") + "/" + string(room) + "/" + url.PathEscape(string(identity))
}

// Client is a realtime transport client. Frames are delivered from a single
// reader goroutine, so arrival order is preserved within one connection.
// Frames are not buffered or replayed across reconnects.
type Client struct {
	url      string
	cfg      Config
	dialer   *websocket.Dialer
	onFrame  func(core.Frame)
	onStatus func(core.ConnState)
	logger   zerolog.Logger

	mu      sync.Mutex
	state   core.ConnState
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewClient(endpoint string, cfg Config, onFrame func(core.Frame), onStatus func(core.ConnState)) *Client {
	return &Client{
		url:      endpoint,
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		onFrame:  onFrame,
		onStatus: onStatus,
		state:    core.ConnIdle,
		logger:   log.With().Str("module", "ws").Str("endpoint", endpoint).Logger(),
	}
}

// Connect opens the connection and starts the read pump. A second call while
// the pump is running is an error; after a terminal errored state or Close,
// Connect may be called again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close is idempotent and caller-initiated: no onFrame or onStatus call is
// made after it returns. Must not be called from inside the delivery callback.
func (c *Client) Close() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Client) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s core.ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onStatus
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		done := c.done
		c.mu.Unlock()
		close(done)
	}()

	attempt := 0
	for {
		c.setState(core.ConnConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				c.shutdown()
				return
			}
			attempt++
			if attempt > c.cfg.MaxAttempts {
				c.logger.Error().Err(err).Int("attempts", attempt-1).Msg("connect ceiling reached, giving up")
				c.setState(core.ConnErrored)
				return
			}
			delay := c.backoff(attempt)
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect failed")
			select {
			case <-ctx.Done():
				c.shutdown()
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		if c.cfg.ReadLimit > 0 {
			conn.SetReadLimit(c.cfg.ReadLimit)
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(core.ConnOpen)
		c.logger.Info().Msg("connected")

		err = c.readPump(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.shutdown()
			return
		}
		c.logger.Error().Err(err).Msg("connection dropped")
		c.setState(core.ConnErrored)
	}
}

// readPump delivers inbound frames until the connection breaks. Unblocking on
// cancel relies on the watcher closing the socket under the read.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	pumpDone := make(chan struct{})
	defer close(pumpDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-pumpDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.onFrame != nil {
			c.onFrame(data)
		}
	}
}

// shutdown is the caller-initiated exit path.
func (c *Client) shutdown() {
	c.logger.Info().Msg("closing")
	c.setState(core.ConnClosing)
	c.setState(core.ConnIdle)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if d > c.cfg.BackoffCap || d <= 0 {
		d = c.cfg.BackoffCap
	}
	return d
}
