//go:build wireinject
// +build wireinject

package di

import (
	"BarHarvest/pkg/config"
	"BarHarvest/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideCacheService,

		// Repositories and services
		ProvideSymbolCatalog,
		ProvideSeriesStore,
		ProvideOutcomeSink,
		ProvideBatchArchive,
		ProvideAuthProvider,
		ProvideFetcher,

		// Use cases
		ProvideHarvester,
		ProvideRecrawlHandler,

		// Transports
		ProvideKafkaConsumer,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
