package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"proofcanvas/application/ports"
	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
	"proofcanvas/infrastructure/config"
	"proofcanvas/pkg/auth"
	appErrors "proofcanvas/pkg/errors"
	"proofcanvas/pkg/observability"
	"proofcanvas/pkg/taskqueue"
)

// LimitsSource provides the relay limits in force. *config.LimitsWatcher implements it.
type LimitsSource interface {
	Current() config.Limits
}

// HubOptions configures a Hub. Broker and Limits are required.
type HubOptions struct {
	// Instance identifies this relay process on the broker
	Instance string
	Broker   ports.Broker
	Limits   LimitsSource
	// Presence and Events are optional. Their writes run on Queue.
	Presence ports.PresenceStore
	Events   ports.EventPublisher
	Queue    *taskqueue.Queue
	Metrics  *observability.Collector
	Tracer   *observability.Tracer

	HealthInterval  time.Duration
	RoomIdleTimeout time.Duration
	Logger          *zap.Logger
}

type registration struct {
	client *Client
	result chan error
}

// Hub owns the rooms of this relay instance. Membership changes go through a
// single event loop; inbound messages are handled on each client's read pump.
type Hub struct {
	instance string
	broker   ports.Broker
	limits   LimitsSource
	presence ports.PresenceStore
	events   ports.EventPublisher
	queue    *taskqueue.Queue
	ownQueue bool
	metrics  *observability.Collector
	tracer   *observability.Tracer
	logger   *zap.Logger

	healthInterval  time.Duration
	roomIdleTimeout time.Duration

	mu      sync.RWMutex
	rooms   map[string]*Room
	users   map[string]int // userID -> connections on this instance
	limiter *auth.TokenBucketLimiter

	register   chan registration
	unregister chan *Client

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Broker == nil {
		return nil, appErrors.NewValidationError("hub requires a broker")
	}
	if opts.Limits == nil {
		return nil, appErrors.NewValidationError("hub requires a limits source")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.RoomIdleTimeout <= 0 {
		opts.RoomIdleTimeout = 5 * time.Minute
	}
	ownQueue := false
	if opts.Queue == nil {
		opts.Queue = taskqueue.New(taskqueue.DefaultOptions(), opts.Logger)
		ownQueue = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		instance:        opts.Instance,
		broker:          opts.Broker,
		limits:          opts.Limits,
		presence:        opts.Presence,
		events:          opts.Events,
		queue:           opts.Queue,
		ownQueue:        ownQueue,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		logger:          opts.Logger,
		healthInterval:  opts.HealthInterval,
		roomIdleTimeout: opts.RoomIdleTimeout,
		rooms:           make(map[string]*Room),
		users:           make(map[string]int),
		register:        make(chan registration),
		unregister:      make(chan *Client, 100),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	h.ApplyLimits(opts.Limits.Current())
	return h, nil
}

// Instance returns the broker identity of this hub
func (h *Hub) Instance() string { return h.instance }

// ApplyLimits swaps in new message rate limits. Existing rooms keep their
// canvas limits; new rooms pick up the new ones.
func (h *Hub) ApplyLimits(l config.Limits) {
	limiter := auth.NewTokenBucketLimiter(l.MessageBurst, time.Duration(l.MessageRefill)*time.Millisecond)
	h.mu.Lock()
	h.limiter = limiter
	h.mu.Unlock()
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	ticker := time.NewTicker(h.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAll()
			return

		case reg := <-h.register:
			reg.result <- h.registerClient(reg.client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.performHealthCheck()
		}
	}
}

// Stop shuts the hub down and waits for the loop to exit
func (h *Hub) Stop() {
	h.logger.Info("Stopping relay hub")
	h.cancel()
	if h.running.Load() {
		<-h.done
	}
	if h.ownQueue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.queue.Close(ctx)
	}
}

// Register admits a client into its room. The client's pumps must not start
// before this returns nil.
func (h *Hub) Register(c *Client) error {
	reg := registration{client: c, result: make(chan error, 1)}
	select {
	case h.register <- reg:
	case <-h.ctx.Done():
		return appErrors.NewClosedError("relay hub")
	}
	select {
	case err := <-reg.result:
		return err
	case <-h.ctx.Done():
		return appErrors.NewClosedError("relay hub")
	}
}

// ConnectionCount returns how many connections a user holds on this instance
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// RoomCount returns the number of rooms held by this instance
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomState returns the state of a room held by this instance
func (h *Hub) RoomState(problemID string) (RoomState, bool) {
	h.mu.RLock()
	room, ok := h.rooms[problemID]
	h.mu.RUnlock()
	if !ok {
		return RoomState{}, false
	}
	return room.state(), true
}

// dropClient schedules an unregister without blocking the caller
func (h *Hub) dropClient(c *Client) {
	go func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()
}

func (h *Hub) roomFor(problemID string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[problemID]; ok {
		return room, nil
	}
	room := newRoom(problemID, h, h.limits.Current().Graph())
	cancel, err := h.broker.Subscribe(h.ctx, problemID, room.deliver)
	if err != nil {
		return nil, err
	}
	room.cancel = cancel
	h.rooms[problemID] = room
	if h.metrics != nil {
		h.metrics.Rooms.Set(float64(len(h.rooms)))
	}
	return room, nil
}

// registerClient adds a new client connection
func (h *Hub) registerClient(c *Client) error {
	limit := h.limits.Current().MaxConnectionsPerUser
	if h.ConnectionCount(c.UserID()) >= limit {
		return appErrors.NewLimitError("connections per user", limit)
	}

	room, err := h.roomFor(c.problemID)
	if err != nil {
		return err
	}
	c.room = room

	first, err := room.join(c)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.users[c.UserID()]++
	userConns := h.users[c.UserID()]
	h.mu.Unlock()

	if first {
		if env, err := collab.NewEnvelope(collab.TypeUserJoined, room.id, c.presence()); err == nil {
			env.UserID = c.UserID()
			h.publish(h.ctx, room, c.id, env)
		}
	}
	h.putPresence(c)

	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
	h.logger.Info("Client registered",
		zap.String("userID", c.UserID()),
		zap.String("connectionID", c.id),
		zap.String("problemID", c.problemID),
		zap.Int("userConnections", userConns),
	)
	return nil
}

// unregisterClient removes a client connection
func (h *Hub) unregisterClient(c *Client) {
	room := c.room
	if room == nil {
		return
	}
	present, last := room.remove(c)
	if !present {
		return
	}
	c.close()

	h.mu.Lock()
	h.users[c.UserID()]--
	if h.users[c.UserID()] <= 0 {
		delete(h.users, c.UserID())
	}
	limiter := h.limiter
	h.mu.Unlock()
	limiter.Reset(h.ctx, c.id)

	if last {
		if env, err := collab.NewEnvelope(collab.TypeUserLeft, room.id, collab.UserLeft{UserID: c.UserID()}); err == nil {
			env.UserID = c.UserID()
			h.publish(h.ctx, room, c.id, env)
		}
	}
	h.deletePresence(c)

	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}
	h.logger.Info("Client unregistered",
		zap.String("userID", c.UserID()),
		zap.String("connectionID", c.id),
		zap.String("problemID", room.id),
		zap.Int("remainingInRoom", room.size()),
	)
}

// handleInbound validates, stamps, applies and fans out one client frame.
// Rejections are answered with an error envelope to the sender only.
func (h *Hub) handleInbound(c *Client, raw []byte) {
	h.mu.RLock()
	limiter := h.limiter
	h.mu.RUnlock()

	if ok, _ := limiter.Allow(h.ctx, c.id); !ok {
		h.reject(c, "rate_limited", appErrors.NewLimitError("messages", h.limits.Current().MessageBurst))
		return
	}

	env, err := collab.ParseEnvelope(raw)
	if err != nil {
		h.reject(c, "malformed", err)
		return
	}
	if env.Type == collab.TypePong {
		return
	}
	if !collab.IsClientType(env.Type) {
		h.reject(c, "forbidden_type", appErrors.NewValidationError(fmt.Sprintf("message type %q is relay-only", env.Type)))
		return
	}
	if env.Type == collab.TypePing {
		if pong, err := collab.NewEnvelope(collab.TypePong, c.problemID, nil); err == nil {
			c.enqueueEnvelope(pong)
		}
		return
	}
	if err := env.Validate(); err != nil {
		h.reject(c, "invalid", err)
		return
	}

	env.UserID = c.UserID()
	env.ProblemID = c.problemID
	env.Timestamp = collab.Now()

	err = h.tracer.TraceFunction(h.ctx, "relay.message", func(ctx context.Context) error {
		events, err := c.room.apply(env)
		switch {
		case appErrors.IsType(err, appErrors.ErrorTypeLimit):
			return err
		case err != nil:
			// the room copy only knows what passed through this relay;
			// peers may hold state it never saw
			c.logger.Debug("Room state not updated, relaying anyway",
				zap.String("type", string(env.Type)),
				zap.Error(err),
			)
		default:
			h.publishEvents(events)
		}
		return h.publish(ctx, c.room, c.id, env)
	}, attribute.String("type", string(env.Type)), attribute.String("problem_id", c.problemID))
	if err != nil {
		h.reject(c, "rejected", err)
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()
	}
}

func (h *Hub) reject(c *Client, reason string, err error) {
	if h.metrics != nil {
		h.metrics.MessagesRejected.WithLabelValues(reason).Inc()
	}
	h.logger.Debug("Message rejected",
		zap.String("connectionID", c.id),
		zap.String("reason", reason),
		zap.Error(err),
	)
	if env, e := collab.NewEnvelope(collab.TypeError, c.problemID, collab.ErrorPayloadFrom(err)); e == nil {
		c.enqueueEnvelope(env)
	}
}

func (h *Hub) publish(ctx context.Context, room *Room, origin string, env collab.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	data, err := json.Marshal(relayMessage{Origin: origin, Instance: h.instance, Envelope: raw})
	if err != nil {
		return err
	}
	if err := h.broker.Publish(ctx, room.id, data); err != nil {
		h.logger.Warn("Broker publish failed",
			zap.String("problemID", room.id),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *Hub) publishEvents(events []canvas.DomainEvent) {
	if h.events == nil || len(events) == 0 {
		return
	}
	if _, err := h.queue.Enqueue("events", func(ctx context.Context) error {
		return h.events.PublishBatch(ctx, events)
	}); err != nil {
		h.logger.Warn("Dropping domain events", zap.Int("count", len(events)), zap.Error(err))
	}
}

func (h *Hub) putPresence(c *Client) {
	if h.presence == nil {
		return
	}
	record := ports.ConnectionRecord{
		ConnectionID: c.id,
		UserID:       c.UserID(),
		ProblemID:    c.problemID,
		Instance:     h.instance,
		ConnectedAt:  c.connectedAt,
	}
	if _, err := h.queue.Enqueue("presence.put", func(ctx context.Context) error {
		return h.presence.Put(ctx, record)
	}); err != nil {
		h.logger.Warn("Presence put not scheduled", zap.String("connectionID", c.id), zap.Error(err))
	}
}

func (h *Hub) deletePresence(c *Client) {
	if h.presence == nil {
		return
	}
	id := c.id
	if _, err := h.queue.Enqueue("presence.delete", func(ctx context.Context) error {
		return h.presence.Delete(ctx, id)
	}); err != nil {
		h.logger.Warn("Presence delete not scheduled", zap.String("connectionID", id), zap.Error(err))
	}
}

// performHealthCheck pings every client, refreshes presence records and
// evicts rooms that stayed empty past the idle timeout
func (h *Hub) performHealthCheck() {
	ping, _ := collab.NewEnvelope(collab.TypePing, "", nil)

	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	total := 0
	now := time.Now()
	for _, room := range rooms {
		for _, c := range room.members() {
			total++
			if !c.enqueueEnvelope(ping) {
				h.logger.Warn("Failed to ping client",
					zap.String("userID", c.UserID()),
					zap.String("connectionID", c.id),
				)
			}
			h.putPresence(c)
		}
		if room.idleFor(now) >= h.roomIdleTimeout {
			h.evict(room)
		}
	}

	h.logger.Debug("Health check performed",
		zap.Int("totalConnections", total),
		zap.Int("rooms", h.RoomCount()),
	)
}

func (h *Hub) evict(room *Room) {
	h.mu.Lock()
	if h.rooms[room.id] == room {
		delete(h.rooms, room.id)
	}
	n := len(h.rooms)
	h.mu.Unlock()

	if room.cancel != nil {
		room.cancel()
	}
	if h.metrics != nil {
		h.metrics.Rooms.Set(float64(n))
	}
	h.logger.Info("Room evicted", zap.String("problemID", room.id))
}

// closeAll closes all active connections during shutdown
func (h *Hub) closeAll() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*Room)
	h.users = make(map[string]int)
	h.mu.Unlock()

	for _, room := range rooms {
		for _, c := range room.members() {
			room.remove(c)
			c.close()
			h.deletePresence(c)
		}
		if room.cancel != nil {
			room.cancel()
		}
	}
	if h.metrics != nil {
		h.metrics.Connections.Set(0)
		h.metrics.Rooms.Set(0)
	}
	h.logger.Info("All connections closed")
}
