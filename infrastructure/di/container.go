package di

import (
	"net/http"

	"go.uber.org/zap"

	"proofcanvas/application/ports"
	"proofcanvas/infrastructure/config"
	"proofcanvas/interfaces/websocket"
	"proofcanvas/pkg/auth"
	"proofcanvas/pkg/observability"
	"proofcanvas/pkg/taskqueue"
)

// Container holds all relay dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Limits   *config.LimitsWatcher
	Metrics  *observability.Collector
	Tracer   *observability.Tracer
	Broker   ports.Broker
	Presence ports.PresenceStore
	Events   ports.EventPublisher
	Queue    *taskqueue.Queue
	JWT      *auth.JWTService
	Hub      *websocket.Hub
	Server   *websocket.Server
	Router   http.Handler
}
