//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"proofcanvas/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideLimitsWatcher,
	ProvideMetrics,
	ProvideTracer,
	ProvideAWSConfig,
	ProvideBroker,
	ProvidePresenceStore,
	ProvideEventPublisher,
	ProvideQueue,
	ProvideJWTService,
	ProvideHub,
	ProvideWebSocketServer,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
