// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package di

import (
	"CapTrack/pkg/config"
	"CapTrack/pkg/server"
)

// Injectors from wire.go:

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	fillStream := ProvideFillStream(cfg)
	book := ProvidePortfolioBook(cfg)
	httpClient := ProvidePortfolioHTTP(cfg)
	estimator, err := ProvideEstimator(cfg, book, httpClient)
	if err != nil {
		return nil, err
	}
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	snapshotPublisher := ProvideSnapshotPublisher(producer, cfg)
	client, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	snapshotStore := ProvideSnapshotStore(client, cfg)
	redisClient := ProvideRedisClient(cfg)
	queueService := ProvideQueuePublisher(cfg, redisClient)
	metrics := ProvideMetrics()
	snapshotProcessor := ProvideSnapshotProcessor(snapshotPublisher, snapshotStore, queueService, metrics, cfg)
	capacityRecorder := ProvideCapacityRecorder(estimator, book, snapshotProcessor, metrics)
	fillCollector := ProvideFillCollector(fillStream, capacityRecorder, metrics, httpClient, cfg)
	consumer, err := ProvideKafkaConsumer(cfg)
	if err != nil {
		return nil, err
	}
	kafkaFillsHandler := ProvideKafkaFillsHandler(capacityRecorder, metrics, cfg)
	redisQueue := ProvideQueueConsumer(cfg, redisClient, snapshotStore, metrics)
	service := ProvideReportCache(cfg)
	capacityReportUseCase := ProvideReportUseCase(capacityRecorder, snapshotStore, service)
	app := ProvideApp(cfg, fillCollector, consumer, kafkaFillsHandler, client, producer, redisQueue, capacityReportUseCase)
	return app, nil
}
