package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/infrastructure/broker"
	"proofcanvas/infrastructure/config"
	"proofcanvas/infrastructure/events"
	"proofcanvas/infrastructure/presence"
)

func localConfig() *config.Config {
	return &config.Config{
		ServerAddress:    ":0",
		Environment:      "test",
		ShutdownTimeout:  time.Second,
		AWSRegion:        "us-west-2",
		ConnectRateLimit: 60,
		LogLevel:         "warn",
		JWTSecret:        "secret",
		JWTIssuer:        "proofcanvas",
		AllowedOrigins:   []string{"*"},
		ServiceName:      "proofcanvas-relay",
		EnableMetrics:    true,
	}
}

func TestInitializeContainer_Local(t *testing.T) {
	container, cleanup, err := InitializeContainer(context.Background(), localConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &broker.Memory{}, container.Broker)
	assert.IsType(t, &presence.Memory{}, container.Presence)
	assert.IsType(t, &events.LogPublisher{}, container.Events)
	assert.NotNil(t, container.Metrics)
	assert.Nil(t, container.Tracer)
	assert.Equal(t, config.DefaultLimits(), container.Limits.Current())

	rec := httptest.NewRecorder()
	container.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitializeContainer_BadLogLevel(t *testing.T) {
	cfg := localConfig()
	cfg.LogLevel = "loud"
	_, _, err := InitializeContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestInitializeContainer_BadRedisURL(t *testing.T) {
	cfg := localConfig()
	cfg.RedisURL = "::not a url"
	_, _, err := InitializeContainer(context.Background(), cfg)
	assert.Error(t, err)
}
