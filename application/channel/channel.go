// Package channel is the client side of the collaboration protocol: a typed
// publish/subscribe channel over a websocket that reconnects with
// exponential backoff.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
	appErrors "proofcanvas/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 256
)

// ReconnectOptions configures the backoff used after an unexpected close
type ReconnectOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     uint
}

// DefaultReconnectOptions returns 500ms doubling up to 30s, ten attempts
func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		MaxAttempts:     10,
	}
}

// Options configures a Channel
type Options struct {
	// URL of the relay endpoint, e.g. ws://localhost:8080/ws
	URL       string
	ProblemID string
	Token     string
	Reconnect ReconnectOptions
	Dialer    *websocket.Dialer
	Logger    *zap.Logger
}

// Channel is one participant's connection to a workspace room
type Channel struct {
	opts     Options
	logger   *zap.Logger
	registry *Registry

	ctx  context.Context
	stop context.CancelFunc

	mu              sync.Mutex
	conn            *websocket.Conn
	send            chan []byte
	gen             uint64
	connected       bool
	closed          bool
	reconnectCancel context.CancelFunc
	listeners       map[uint64]func(bool)
	nextListener    uint64
}

// New creates a channel. Nothing is dialed until Connect.
func New(opts Options) (*Channel, error) {
	if opts.URL == "" {
		return nil, appErrors.NewValidationError("channel url is required")
	}
	if opts.ProblemID == "" {
		return nil, appErrors.NewValidationError("problem id is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	def := DefaultReconnectOptions()
	if opts.Reconnect.InitialInterval <= 0 {
		opts.Reconnect.InitialInterval = def.InitialInterval
	}
	if opts.Reconnect.MaxInterval <= 0 {
		opts.Reconnect.MaxInterval = def.MaxInterval
	}
	if opts.Reconnect.Multiplier < 1 {
		opts.Reconnect.Multiplier = def.Multiplier
	}
	if opts.Reconnect.MaxAttempts == 0 {
		opts.Reconnect.MaxAttempts = def.MaxAttempts
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Channel{
		opts:      opts,
		logger:    opts.Logger.With(zap.String("problemID", opts.ProblemID)),
		registry:  NewRegistry(),
		ctx:       ctx,
		stop:      stop,
		listeners: make(map[uint64]func(bool)),
	}, nil
}

// ProblemID returns the room this channel joins
func (c *Channel) ProblemID() string {
	return c.opts.ProblemID
}

// Connect dials the relay once. Later unexpected closes reconnect on their own.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return appErrors.NewClosedError("channel")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// Connected reports whether a socket is currently open
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnConnectionChange registers a listener for connectivity changes
func (c *Channel) OnConnectionChange(fn func(connected bool)) *Subscription {
	c.mu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn
	c.mu.Unlock()

	return &Subscription{cancel: func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

// Reconnect drops the current socket and starts a fresh reconnection with
// the backoff reset.
func (c *Channel) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return appErrors.NewClosedError("channel")
	}
	conn, was := c.detachLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if was {
		c.notify(false)
	}
	c.startReconnect()
	return nil
}

// Close shuts the channel down. Idempotent; envelopes that arrive after
// Close are dropped.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.registry.Close()
	conn, was := c.detachLocked()
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	c.mu.Unlock()

	c.stop()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	if was {
		c.notify(false)
	}
	return nil
}

// detachLocked forgets the current socket; bumping gen marks its pumps as
// intentionally stopped.
func (c *Channel) detachLocked() (*websocket.Conn, bool) {
	conn, was := c.conn, c.connected
	c.gen++
	c.conn = nil
	c.send = nil
	c.connected = false
	return conn, was
}

func (c *Channel) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", appErrors.NewValidationError("invalid channel url").WithCause(err)
	}
	q := u.Query()
	q.Set("problemId", c.opts.ProblemID)
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, appErrors.NewUnauthorizedError("relay rejected token").WithCause(err)
		}
		return nil, appErrors.NewNetworkError("dial relay", err)
	}
	return conn, nil
}

func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	c.gen++
	gen := c.gen
	send := make(chan []byte, sendBufferSize)
	done := make(chan struct{})
	c.conn = conn
	c.send = send
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Channel connected")
	c.notify(true)

	go c.writePump(conn, send, done)
	go c.readPump(conn, gen, done)
}

func (c *Channel) readPump(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var readErr error
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(gen, message)
	}

	c.lost(gen, readErr)
}

func (c *Channel) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) handle(gen uint64, message []byte) {
	env, err := collab.ParseEnvelope(message)
	if err != nil {
		c.logger.Warn("Dropping malformed envelope", zap.Error(err))
		return
	}
	if env.Type == collab.TypePing {
		c.Send(collab.TypePong, nil)
		return
	}

	c.mu.Lock()
	live := !c.closed && gen == c.gen
	c.mu.Unlock()
	if !live {
		return
	}
	c.registry.Dispatch(env)
}

// lost handles the end of a read loop. Intentional closes have already
// bumped gen and are ignored here.
func (c *Channel) lost(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	_, was := c.detachLocked()
	c.mu.Unlock()

	c.logger.Warn("Channel connection lost", zap.Error(err))
	if was {
		c.notify(false)
	}
	c.startReconnect()
}

func (c *Channel) startReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.reconnectCancel != nil {
		c.reconnectCancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.reconnectCancel = cancel
	c.mu.Unlock()

	go c.reconnect(ctx)
}

func (c *Channel) reconnect(ctx context.Context) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.Reconnect.InitialInterval
	exp.MaxInterval = c.opts.Reconnect.MaxInterval
	exp.Multiplier = c.opts.Reconnect.Multiplier
	exp.RandomizationFactor = 0

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		attempt++
		conn, err := c.dial(ctx)
		if err != nil && appErrors.IsUnauthorized(err) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.opts.Reconnect.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Info("Reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("Giving up reconnecting", zap.Int("attempts", attempt), zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		conn.Close()
		return
	}
	c.attach(conn)
}

func (c *Channel) notify(connected bool) {
	c.mu.Lock()
	if c.closed && connected {
		c.mu.Unlock()
		return
	}
	fns := make([]func(bool), 0, len(c.listeners))
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// Send publishes payload as an envelope of type t. It fails when the channel
// is closed or currently disconnected.
func (c *Channel) Send(t collab.MessageType, payload interface{}) error {
	env, err := collab.NewEnvelope(t, c.opts.ProblemID, payload)
	if err != nil {
		return err
	}
	if payload != nil {
		if err := env.Validate(); err != nil {
			return err
		}
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return appErrors.NewClosedError("channel")
	}
	if !c.connected {
		return appErrors.NewNetworkError("channel not connected", nil)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return appErrors.NewLimitError("send buffer", sendBufferSize)
	}
}

// Subscribe registers a raw handler for envelopes of type t
func (c *Channel) Subscribe(t collab.MessageType, h Handler) *Subscription {
	return c.registry.Subscribe(t, h)
}

// SendCursorMove publishes the local pointer
func (c *Channel) SendCursorMove(x, y float64, file string) error {
	return c.Send(collab.TypeCursorMove, collab.Cursor{X: x, Y: y, File: file})
}

// SendSelection publishes the local text selection
func (c *Channel) SendSelection(start, end int, file string) error {
	return c.Send(collab.TypeSelectionChange, collab.Selection{Start: start, End: end, File: file})
}

// SendDocumentSync publishes the full content of a file
func (c *Channel) SendDocumentSync(path, content string) error {
	return c.Send(collab.TypeDocumentSync, collab.DocumentSync{Path: path, Content: content})
}

// SendDocumentEdit publishes an incremental edit
func (c *Channel) SendDocumentEdit(edit collab.DocumentEdit) error {
	return c.Send(collab.TypeDocumentEdit, edit)
}

// SendCanvasSync publishes a full canvas snapshot
func (c *Channel) SendCanvasSync(s canvas.Snapshot) error {
	return c.Send(collab.TypeCanvasSync, collab.CanvasSync{Nodes: s.Nodes, Edges: s.Edges})
}

func (c *Channel) SendNodeCreate(n canvas.Node) error {
	return c.Send(collab.TypeNodeCreate, collab.NodePayload{Node: n})
}

func (c *Channel) SendNodeUpdate(n canvas.Node) error {
	return c.Send(collab.TypeNodeUpdate, collab.NodePayload{Node: n})
}

func (c *Channel) SendNodeDelete(id string) error {
	return c.Send(collab.TypeNodeDelete, collab.NodeDelete{NodeID: id})
}

func (c *Channel) SendNodeMove(id string, x, y float64) error {
	return c.Send(collab.TypeNodeMove, collab.NodeMove{NodeID: id, X: x, Y: y})
}

// SendNodesMove publishes a block drag commit
func (c *Channel) SendNodesMove(positions map[string]canvas.Point) error {
	return c.Send(collab.TypeNodesMove, collab.NodesMove{Positions: positions})
}

func (c *Channel) SendEdgeCreate(e canvas.Edge) error {
	return c.Send(collab.TypeEdgeCreate, collab.EdgePayload{Edge: e})
}

func (c *Channel) SendEdgeDelete(id string) error {
	return c.Send(collab.TypeEdgeDelete, collab.EdgeDelete{EdgeID: id})
}
