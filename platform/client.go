package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telegate/gwcore/model"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// RPCHandler answers a server-side RPC request (spec §4.5's device
// queue feeds off this).
type RPCHandler func(ctx context.Context, requestID, device string, content map[string]any)

// AttributeUpdateHandler delivers a shared-attribute push for one
// device.
type AttributeUpdateHandler func(device string, data map[string]any)

// Config configures a Client.
type Config struct {
	URL               string
	DialTimeout       time.Duration
	KeepAliveInterval time.Duration
}

// Client is the reference Platform Client: a persistent websocket
// link with automatic reconnect and exponential backoff.
type Client struct {
	cfg Config

	connMu sync.Mutex
	conn   *websocket.Conn
	writeMu sync.Mutex

	connected atomic.Bool
	stopped   atomic.Bool
	subscribed atomic.Bool

	pendingMu  sync.Mutex
	pending    map[string]*future
	lastResult map[string]map[string]any

	idCounter atomic.Uint64
	stopCh    chan struct{}

	onRPC         RPCHandler
	onAttrUpdate  AttributeUpdateHandler
	handlersMu    sync.RWMutex
}

func New(cfg Config) *Client {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		pending:    map[string]*future{},
		lastResult: map[string]map[string]any{},
		stopCh:     make(chan struct{}),
	}
}

func (c *Client) OnServerRPC(h RPCHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onRPC = h
}

func (c *Client) OnAttributeUpdate(h AttributeUpdateHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onAttrUpdate = h
}

func (c *Client) IsConnected() bool                      { return c.connected.Load() }
func (c *Client) IsStopped() bool                        { return c.stopped.Load() }
func (c *Client) IsSubscribedToServiceAttributes() bool  { return c.subscribed.Load() }

// Connect starts the reconnect-with-backoff loop in the background and
// blocks until either the first connection succeeds or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	connectedOnce := make(chan struct{})
	var once sync.Once

	go c.reconnectLoop(func() {
		once.Do(func() { close(connectedOnce) })
	})

	select {
	case <-connectedOnce:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) reconnectLoop(onFirstConnect func()) {
	backoff := minBackoff
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
		if err != nil {
			slog.Warn("platform: dial failed, retrying", "error", err, "backoff", backoff)
			if !sleepOrStop(backoff, c.stopCh) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.connected.Store(true)
		backoff = minBackoff
		onFirstConnect()
		slog.Info("platform: connected", "url", c.cfg.URL)

		c.readLoop(conn) // blocks until the connection drops

		c.connected.Store(false)
		c.subscribed.Store(false)
		c.failAllPending(errNotConnected)

		select {
		case <-c.stopCh:
			return
		default:
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isRetryableCloseError(err) {
				slog.Warn("platform: read error, reconnecting", "error", err)
			} else {
				slog.Info("platform: connection closed", "error", err)
			}
			conn.Close()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("platform: malformed frame dropped", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	switch env.Type {
	case typeAck:
		if env.Result != nil {
			c.pendingMu.Lock()
			c.lastResult[env.ID] = env.Result
			c.pendingMu.Unlock()
		}
		c.resolvePending(env.ID, ackError(env))
	case typeRPCRequest:
		c.handlersMu.RLock()
		h := c.onRPC
		c.handlersMu.RUnlock()
		if h != nil {
			h(context.Background(), env.RequestID, env.Device, env.Params)
		}
	case typeAttributesUpdate:
		c.handlersMu.RLock()
		h := c.onAttrUpdate
		c.handlersMu.RUnlock()
		if h != nil {
			h(env.Device, env.Attributes)
		}
	default:
		slog.Debug("platform: unrecognized frame type", "type", env.Type)
	}
}

func ackError(env envelope) error {
	if env.Success {
		return nil
	}
	if env.Error != "" {
		return fmt.Errorf("platform: %s (code %d)", env.Error, env.Code)
	}
	return fmt.Errorf("platform: publish rejected (code %d)", env.Code)
}

// Disconnect closes the current connection; the background reconnect
// loop will re-dial unless Stop has been called.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	return err
}

// Stop permanently shuts the client down; no further reconnect
// attempts are made.
func (c *Client) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)
	return c.Disconnect()
}

// Subscribe registers this connection for server-side RPC requests and
// attribute-update pushes. The Watchdog calls it once per (re)connect
// (spec §4.7: "if (re)connected and not yet subscribed, ... resubscribe
// to RPC and attribute topics"); subscribed stays false across a drop
// so the Watchdog knows to call it again after the next reconnect.
func (c *Client) Subscribe(ctx context.Context) error {
	if err := c.send(envelope{Type: typeSubscribe}).Get(ctx); err != nil {
		return fmt.Errorf("platform: subscribe: %w", err)
	}
	c.subscribed.Store(true)
	return nil
}

func (c *Client) registerFuture() (string, *future) {
	id := fmt.Sprintf("%d", c.idCounter.Add(1))
	f := newFuture()
	c.pendingMu.Lock()
	c.pending[id] = f
	c.pendingMu.Unlock()
	return id, f
}

func (c *Client) resolvePending(id string, err error) {
	c.pendingMu.Lock()
	f, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		f.resolve(err)
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = map[string]*future{}
	c.pendingMu.Unlock()
	for _, f := range pending {
		f.resolve(err)
	}
}

// send serializes env, registers a future keyed by env.ID, and writes
// it over the current connection. Writes are serialized by writeMu
// since gorilla/websocket connections are not safe for concurrent
// writers.
func (c *Client) send(env envelope) model.Future {
	id, f := c.registerFuture()
	env.ID = id

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		c.resolvePending(id, errNotConnected)
		return f
	}

	data, err := json.Marshal(env)
	if err != nil {
		c.resolvePending(id, err)
		return f
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if writeErr != nil {
		c.resolvePending(id, writeErr)
	}
	return f
}

func sleepOrStop(d time.Duration, stopCh <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
