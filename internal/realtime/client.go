package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"chatsync/internal/events"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 60 * time.Second
	pingInterval        = 30 * time.Second
	readLimit           = 1 << 20
)

// Envelope is the wire frame pushed by the realtime server.
type Envelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeFrame is sent once per room after the socket opens.
type subscribeFrame struct {
	Op   string `json:"op"`
	Room string `json:"room"`
}

// Client maintains a websocket subscription to the realtime server and
// republishes every server push on the in-process event bus. Writes are
// limited to room subscriptions and pings, so a single session goroutine
// owns the connection.
type Client struct {
	url    string
	apiKey string
	token  string
	bus    *events.EventBus
	logger *zerolog.Logger

	reconnectMin time.Duration
	reconnectMax time.Duration

	mu        sync.RWMutex
	rooms     map[string]struct{}
	connected bool
}

func NewClient(url, apiKey, token string, bus *events.EventBus, logger *zerolog.Logger) *Client {
	return &Client{
		url:          url,
		apiKey:       apiKey,
		token:        token,
		bus:          bus,
		logger:       logger,
		reconnectMin: defaultReconnectMin,
		reconnectMax: defaultReconnectMax,
		rooms:        make(map[string]struct{}),
	}
}

// SetBackoff overrides the reconnect delay bounds. Zero values keep the
// defaults. Call before Run.
func (c *Client) SetBackoff(min, max time.Duration) {
	if min > 0 {
		c.reconnectMin = min
	}
	if max > 0 {
		c.reconnectMax = max
	}
	if c.reconnectMax < c.reconnectMin {
		c.reconnectMax = c.reconnectMin
	}
}

// JoinRoom registers a room subscription. Rooms joined while the
// connection is down are replayed on the next (re)connect.
func (c *Client) JoinRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) LeaveRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run dials the realtime server and keeps the session alive with
// exponential reconnect backoff plus jitter. It returns only when ctx
// is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.reconnectMin

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = c.reconnectMin
			continue
		}

		c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("realtime: connection lost, reconnecting")

		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
	}
}

// session runs one connection lifetime: dial, subscribe, read until the
// socket dies.
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("x-api-key", c.apiKey)

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(readLimit)
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info().Str("url", c.url).Msg("realtime: connected")

	if err := c.subscribeAll(ctx, conn); err != nil {
		return err
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if typ == websocket.MessageBinary {
			c.logger.Debug().Int("bytes", len(data)).Msg("realtime: unexpected binary frame")
			continue
		}
		if err := c.dispatch(data); err != nil {
			c.logger.Warn().Err(err).Msg("realtime: bad frame")
		}
	}
}

func (c *Client) subscribeAll(ctx context.Context, conn *websocket.Conn) error {
	c.mu.RLock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	for _, room := range rooms {
		raw, err := json.Marshal(subscribeFrame{Op: "subscribe", Room: room})
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
			return fmt.Errorf("subscribe %s: %w", room, err)
		}
	}
	return nil
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// dispatch decodes an envelope and republishes it on the bus under its
// event type.
func (c *Client) dispatch(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return fmt.Errorf("envelope without type")
	}

	c.bus.Publish(&events.Event{
		Type:      env.Type,
		Payload:   env.Payload,
		CreatedAt: time.Now(),
	})
	return nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()

	if err := c.bus.PublishJSON(events.EventConnectionChanged, map[string]bool{"online": v}); err != nil {
		c.logger.Warn().Err(err).Msg("realtime: publish connection change")
	}
}
