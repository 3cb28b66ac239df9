package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"CapTrack/internal/capacity"
	"CapTrack/internal/domain/repository"
	domsvc "CapTrack/internal/domain/service"
	mid "CapTrack/internal/middleware"
	internalrepo "CapTrack/internal/repository"
	"CapTrack/internal/service/execstream"
	"CapTrack/internal/services/portfolio"
	"CapTrack/internal/usecase"
	pkgcache "CapTrack/pkg/cache"
	pkgch "CapTrack/pkg/clickhouse"
	"CapTrack/pkg/config"
	pkgkafka "CapTrack/pkg/kafka"
	applogger "CapTrack/pkg/logger"
	"CapTrack/pkg/metrics"
	"CapTrack/pkg/queue"
	"CapTrack/pkg/server"
)

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := cfg.ClickHouse.Database
	if db == "" {
		db = "captrack"
	}
	table := cfg.ClickHouse.Table
	if table == "" {
		table = "capacity_snapshots"
	}
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + db,
		"CREATE TABLE IF NOT EXISTS " + db + "." + table + " (" +
			"ts DateTime, capacity Float64, mean_capacity Float64, min_capacity Float64, " +
			"bottleneck String, scaling_factor Float64, sale_volume_share Float64, " +
			"buying_power_share Float64, daily_capacity Float64, tracked_count UInt32" +
			") ENGINE=MergeTree ORDER BY ts",
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideSnapshotStore creates ClickHouse snapshot storage.
func ProvideSnapshotStore(chClient *pkgch.Client, cfg *config.Config) repository.SnapshotStore {
	db := cfg.ClickHouse.Database
	if db == "" {
		db = "captrack"
	}
	table := cfg.ClickHouse.Table
	if table == "" {
		table = "capacity_snapshots"
	}
	store := internalrepo.NewClickHouseSnapshotStore(chClient.DB(), db+"."+table)
	if l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"}); err == nil {
		store.SetLogger(l)
	}
	return store
}

// ProvideSnapshotPublisher creates a Kafka snapshot publisher.
func ProvideSnapshotPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SnapshotPublisher {
	return internalrepo.NewKafkaSnapshotPublisher(producer, cfg.Kafka.SnapshotsTopic)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideRedisClient creates the shared Redis client for queue use.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideQueuePublisher creates the Redis queue publisher used by the
// async persistence backend.
func ProvideQueuePublisher(cfg *config.Config, client *redis.Client) queue.QueueService {
	if cfg.Backend.Type != "queue" {
		return nil
	}
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	return queue.NewRedisPublisher(l, client)
}

// ProvideQueueConsumer creates the Redis queue consumer running the
// snapshot persistence job.
func ProvideQueueConsumer(
	cfg *config.Config,
	client *redis.Client,
	store repository.SnapshotStore,
	m repository.Metrics,
) *queue.RedisQueue {
	if cfg.Backend.Type != "queue" {
		return nil
	}
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	workers := cfg.Redis.Queue.Workers
	if workers <= 0 {
		workers = 2
	}
	jobs := []queue.Job{usecase.NewSnapshotPersistJob(store, m)}
	return queue.NewRedisConsumer(l, &queue.QueueConfig{Workers: workers}, client, jobs)
}

// ProvideKafkaFillsHandler registers the handler for the fills topic.
func ProvideKafkaFillsHandler(rec *usecase.CapacityRecorder, m repository.Metrics, cfg *config.Config) *usecase.KafkaFillsHandler {
	return usecase.NewKafkaFillsHandler(cfg.Kafka.FillsTopic, rec, m)
}

// ProvideFillStream creates the execution WebSocket stream.
func ProvideFillStream(cfg *config.Config) repository.FillStream {
	return execstream.New(
		cfg.Stream.APIKey,
		cfg.Stream.WebSocketURL,
		cfg.Stream.Symbols,
		cfg.Stream.ReconnectDelay,
		cfg.Stream.PingInterval,
	)
}

// ProvidePortfolioBook creates the local portfolio ledger. In http
// mode the ledger is bypassed in favor of the remote state service.
func ProvidePortfolioBook(cfg *config.Config) *portfolio.Book {
	if cfg.Portfolio.Mode == "http" {
		return nil
	}
	return portfolio.NewBook(decimal.NewFromFloat(cfg.Portfolio.StartingCash))
}

// ProvidePortfolioHTTP creates the remote portfolio state client in
// http mode, nil otherwise.
func ProvidePortfolioHTTP(cfg *config.Config) *portfolio.HTTPClient {
	if cfg.Portfolio.Mode != "http" {
		return nil
	}
	return portfolio.NewHTTPClient(cfg)
}

// ProvideEstimator builds the capacity engine from config.
func ProvideEstimator(cfg *config.Config, book *portfolio.Book, hc *portfolio.HTTPClient) (*capacity.Estimator, error) {
	start, err := cfg.CapacityStart()
	if err != nil {
		return nil, fmt.Errorf("capacity start: %w", err)
	}
	end, err := cfg.CapacityEnd(start)
	if err != nil {
		return nil, fmt.Errorf("capacity end: %w", err)
	}

	var pv domsvc.PortfolioView
	var sv domsvc.SecurityView
	switch {
	case book != nil:
		pv, sv = book, book
	case hc != nil:
		pv, sv = hc, hc
	default:
		return nil, fmt.Errorf("no portfolio view configured")
	}

	var trackerOpts []capacity.TrackerOption
	if cfg.Capacity.ParticipationRate > 0 {
		trackerOpts = append(trackerOpts, capacity.WithParticipationRate(decimal.NewFromFloat(cfg.Capacity.ParticipationRate)))
	}
	if cfg.Capacity.WindowTrades > 0 {
		trackerOpts = append(trackerOpts, capacity.WithWindowTrades(cfg.Capacity.WindowTrades))
	}

	est := capacity.NewEstimator(pv, sv, start, end,
		capacity.WithTrackerFactory(func(string) domsvc.LiquidityTracker {
			return capacity.NewSymbolLiquidity(trackerOpts...)
		}),
	)
	return est, nil
}

// ProvideSnapshotProcessor creates the snapshot processor use case.
func ProvideSnapshotProcessor(
	pub repository.SnapshotPublisher,
	store repository.SnapshotStore,
	jobs queue.QueueService,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.SnapshotProcessor {
	return usecase.NewSnapshotProcessor(pub, store, jobs, m, cfg.Backend.Type)
}

// ProvideCapacityRecorder creates the recorder use case.
func ProvideCapacityRecorder(
	est *capacity.Estimator,
	book *portfolio.Book,
	proc *usecase.SnapshotProcessor,
	m repository.Metrics,
) *usecase.CapacityRecorder {
	return usecase.NewCapacityRecorder(est, book, proc, m)
}

// ProvideFillCollector creates the fill collector use case.
func ProvideFillCollector(
	stream repository.FillStream,
	rec *usecase.CapacityRecorder,
	m repository.Metrics,
	hc *portfolio.HTTPClient,
	cfg *config.Config,
) *usecase.FillCollector {
	// Build middleware pipeline between WebSocket and the engine
	pipe := mid.NewFillPipeline(rec, m,
		mid.WithBufferSize(2000),
	)
	c := usecase.NewFillCollector(stream, rec, m, pipe, cfg.Capacity.StepInterval)
	if hc != nil {
		c.SetRefresher(hc)
	}
	return c
}

// ProvideReportCache builds the cache backing history queries: layered
// memory+Redis when Redis caching is enabled, in-process otherwise.
func ProvideReportCache(cfg *config.Config) pkgcache.Service {
	if cfg.Redis.Cache.Enabled && cfg.Redis.Addr != "" {
		host, port := splitHostPort(cfg.Redis.Addr)
		rc, err := pkgcache.NewRedisCache(
			pkgcache.WithRedisHost(host),
			pkgcache.WithRedisPort(port),
			pkgcache.WithRedisPassword(cfg.Redis.Password),
			pkgcache.WithRedisDB(cfg.Redis.DB),
		)
		if err == nil {
			return pkgcache.NewLayeredCache(rc)
		}
	}
	return pkgcache.NewMemoryCache()
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideReportUseCase creates the read-side use case.
func ProvideReportUseCase(rec *usecase.CapacityRecorder, store repository.SnapshotStore, c pkgcache.Service) *usecase.CapacityReportUseCase {
	uc := usecase.NewCapacityReportUseCase(rec, store)
	uc.SetCache(c)
	return uc
}

// kafkaLogPublisher adapts the Kafka producer to the log collector's
// publisher interface.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	collector *usecase.FillCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaFillsHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	queueConsumer *queue.RedisQueue,
	reportUC *usecase.CapacityReportUseCase,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.LoggingHook{})
	}
	app := server.New(cfg, collector, consumer, kh, chClient)
	app.SetReportUseCase(reportUC)
	if producer != nil {
		app.SetLogPublisher(kafkaLogPublisher{producer: producer})
	}
	if queueConsumer != nil {
		app.SetQueueConsumer(queueConsumer)
	}
	if collector != nil {
		app.SnapProc = collector.Recorder().Processor()
	}
	return app
}
