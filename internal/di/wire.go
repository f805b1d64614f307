//go:build wireinject
// +build wireinject

package di

import (
	"ChartDesk/pkg/config"
	"ChartDesk/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Calendar and windows
		ProvideCalendar,
		ProvideWindowComputer,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCandleStore,
		ProvideTickWriter,
		ProvideTickPublisher,
		ProvideVendorAPI,

		// Ingestion path
		ProvideIngestor,
		ProvideTickPipeline,
		ProvideStreamAdapter,
		ProvideBarSinkHandler,

		// Use cases
		ProvideDiagRing,
		ProvideReconciler,
		ProvidePostureAggregator,
		ProvideMarketService,

		// HTTP surface
		ProvideResponseCache,
		ProvideSharedCache,
		ProvideLimiter,
		ProvideMarketHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
