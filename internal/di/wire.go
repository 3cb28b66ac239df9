//go:build wireinject
// +build wireinject

package di

import (
	"CapTrack/pkg/config"
	"CapTrack/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,

		// Repositories (with business logic)
		ProvideSnapshotStore,
		ProvideSnapshotPublisher,
		ProvideQueuePublisher,
		ProvideQueueConsumer,
		ProvideFillStream,

		// Engine and portfolio views
		ProvidePortfolioBook,
		ProvidePortfolioHTTP,
		ProvideEstimator,

		// Use cases
		ProvideSnapshotProcessor,
		ProvideCapacityRecorder,
		ProvideFillCollector,
		ProvideKafkaFillsHandler,
		ProvideReportCache,
		ProvideReportUseCase,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
