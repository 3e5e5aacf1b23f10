package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	appErrors "proofcanvas/pkg/errors"
	"proofcanvas/pkg/observability"
	"proofcanvas/pkg/resilience"
)

const channelPrefix = "proofcanvas:room:"

// Redis fans envelopes out across relay instances with Redis pub/sub.
// Publishes go through a circuit breaker so a dead Redis fails fast.
type Redis struct {
	client  *redis.Client
	breaker *resilience.Breaker
	metrics *observability.Collector
	tracer  *observability.Tracer
	logger  *zap.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// RedisOption customizes a Redis broker
type RedisOption func(*Redis)

// WithMetrics counts broker operations
func WithMetrics(c *observability.Collector) RedisOption {
	return func(r *Redis) { r.metrics = c }
}

// WithTracer wraps publishes in spans
func WithTracer(t *observability.Tracer) RedisOption {
	return func(r *Redis) { r.tracer = t }
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(b *resilience.Breaker) RedisOption {
	return func(r *Redis) { r.breaker = b }
}

// NewRedisFromURL parses a redis:// URL and creates a broker owning the client
func NewRedisFromURL(rawURL string, logger *zap.Logger, opts ...RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, appErrors.NewValidationError(fmt.Sprintf("invalid redis url: %v", err))
	}
	return NewRedis(redis.NewClient(options), logger, opts...), nil
}

// NewRedis creates a broker on top of client. Close closes the client.
func NewRedis(client *redis.Client, logger *zap.Logger, opts ...RedisOption) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redis{
		client: client,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("redis"), logger)
	}
	return r
}

// Ping checks the connection
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return appErrors.NewNetworkError("redis ping failed", err)
	}
	return nil
}

// Publish sends data to the room channel
func (r *Redis) Publish(ctx context.Context, room string, data []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return appErrors.NewClosedError("broker")
	}

	err := r.tracer.TraceFunction(ctx, "broker.publish", func(ctx context.Context) error {
		return r.breaker.Do(func() error {
			if err := r.client.Publish(ctx, channelPrefix+room, data).Err(); err != nil {
				return appErrors.NewNetworkError("redis publish failed", err)
			}
			return nil
		})
	}, attribute.String("room", room))

	r.count("publish", err)
	return err
}

// Subscribe listens on the room channel until cancel is called or the
// broker is closed. The subscription is confirmed before it returns.
func (r *Redis) Subscribe(ctx context.Context, room string, handler func([]byte)) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, appErrors.NewClosedError("broker")
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, channelPrefix+room)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		r.count("subscribe", err)
		return nil, appErrors.NewNetworkError("redis subscribe failed", err)
	}
	r.count("subscribe", nil)

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			r.count("receive", nil)
			handler([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			if err := ps.Close(); err != nil {
				r.logger.Debug("Closing redis subscription failed", zap.String("room", room), zap.Error(err))
			}
		})
	}, nil
}

// Close ends every subscription and closes the client
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for ps := range subs {
		ps.Close()
	}
	return r.client.Close()
}

func (r *Redis) count(op string, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.BrokerOperations.WithLabelValues(op, observability.Status(err)).Inc()
}
