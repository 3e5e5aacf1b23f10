package di

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"proofcanvas/application/ports"
	"proofcanvas/infrastructure/broker"
	"proofcanvas/infrastructure/config"
	"proofcanvas/infrastructure/events"
	"proofcanvas/infrastructure/presence"
	"proofcanvas/interfaces/http/rest"
	"proofcanvas/interfaces/websocket"
	"proofcanvas/pkg/auth"
	"proofcanvas/pkg/observability"
	"proofcanvas/pkg/taskqueue"
)

// Tokens are issued elsewhere; the relay only validates them.
const tokenTTL = 24 * time.Hour

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

// ProvideLimitsWatcher loads the relay limits and watches the file for edits
func ProvideLimitsWatcher(cfg *config.Config, logger *zap.Logger) (*config.LimitsWatcher, func(), error) {
	w, err := config.NewLimitsWatcher(cfg.LimitsFile, logger)
	if err != nil {
		return nil, nil, err
	}
	w.Start()
	return w, w.Stop, nil
}

// ProvideMetrics creates the Prometheus collector, or nil when metrics are off
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("proofcanvas")
}

// ProvideTracer creates the OTLP tracer, or nil when tracing is off
func ProvideTracer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.Tracer, func(), error) {
	if !cfg.EnableTracing {
		return nil, func() {}, nil
	}
	tracer, err := observability.NewTracer(ctx, observability.TracingOptions{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    !cfg.IsProduction(),
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	return tracer, cleanup, nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideBroker picks Redis when REDIS_URL is set, otherwise an in-process broker
func ProvideBroker(
	ctx context.Context,
	cfg *config.Config,
	metrics *observability.Collector,
	tracer *observability.Tracer,
	logger *zap.Logger,
) (ports.Broker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("Using in-process broker; rooms are not shared across instances")
		b := broker.NewMemory()
		return b, func() { b.Close() }, nil
	}

	b, err := broker.NewRedisFromURL(cfg.RedisURL, logger,
		broker.WithMetrics(metrics),
		broker.WithTracer(tracer),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Ping(ctx); err != nil {
		logger.Warn("Redis not reachable at startup", zap.Error(err))
	}
	return b, func() { b.Close() }, nil
}

// ProvidePresenceStore uses DynamoDB when presence is enabled
func ProvidePresenceStore(awsCfg aws.Config, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) ports.PresenceStore {
	if !cfg.EnablePresence {
		return presence.NewMemory()
	}
	client := awsdynamodb.NewFromConfig(awsCfg)
	return presence.NewDynamoStore(client, cfg.ConnectionsTable, presence.DefaultTTL, metrics, logger)
}

// ProvideEventPublisher mirrors domain events to EventBridge when enabled
func ProvideEventPublisher(awsCfg aws.Config, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) ports.EventPublisher {
	if !cfg.EnableEvents {
		return events.NewLogPublisher(logger)
	}
	client := awseventbridge.NewFromConfig(awsCfg)
	return events.NewEventBridgePublisher(client, cfg.EventBusName, metrics, logger)
}

// ProvideQueue creates the background queue for presence and event writes
func ProvideQueue(cfg *config.Config, logger *zap.Logger) (*taskqueue.Queue, func()) {
	q := taskqueue.New(taskqueue.DefaultOptions(), logger)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := q.Close(ctx); err != nil {
			logger.Warn("Background queue did not drain", zap.Error(err))
		}
	}
	return q, cleanup
}

// ProvideJWTService creates the token validator
func ProvideJWTService(cfg *config.Config) *auth.JWTService {
	return auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, tokenTTL)
}

// ProvideHub creates and starts the relay hub. Limit changes on disk are
// applied to it as they happen.
func ProvideHub(
	b ports.Broker,
	limits *config.LimitsWatcher,
	store ports.PresenceStore,
	publisher ports.EventPublisher,
	queue *taskqueue.Queue,
	metrics *observability.Collector,
	tracer *observability.Tracer,
	logger *zap.Logger,
) (*websocket.Hub, func(), error) {
	hub, err := websocket.NewHub(websocket.HubOptions{
		Broker:   b,
		Limits:   limits,
		Presence: store,
		Events:   publisher,
		Queue:    queue,
		Metrics:  metrics,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	limits.OnChange(hub.ApplyLimits)
	go hub.Run()
	return hub, hub.Stop, nil
}

// ProvideWebSocketServer creates the upgrade handler
func ProvideWebSocketServer(
	hub *websocket.Hub,
	jwt *auth.JWTService,
	limits *config.LimitsWatcher,
	store ports.PresenceStore,
	cfg *config.Config,
	logger *zap.Logger,
) *websocket.Server {
	wsCfg := websocket.DefaultServerConfig()
	wsCfg.AllowedOrigins = cfg.AllowedOrigins
	wsCfg.ConnectRateLimit = cfg.ConnectRateLimit
	return websocket.NewServer(hub, jwt, limits, store, wsCfg, logger)
}

// ProvideRouter assembles the HTTP surface
func ProvideRouter(
	cfg *config.Config,
	hub *websocket.Hub,
	server *websocket.Server,
	jwt *auth.JWTService,
	store ports.PresenceStore,
	b ports.Broker,
	metrics *observability.Collector,
	logger *zap.Logger,
) http.Handler {
	var ready []rest.Pinger
	if p, ok := b.(rest.Pinger); ok {
		ready = append(ready, p)
	}
	return rest.NewRouter(rest.RouterOptions{
		Relay:          hub,
		WebSocket:      server.HandleWebSocket,
		JWT:            jwt,
		Presence:       store,
		Metrics:        metrics,
		Ready:          ready,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}).Setup()
}
