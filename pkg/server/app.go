package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CapTrack/internal/handler/api"
	icache "CapTrack/internal/service/cache"
	"CapTrack/internal/usecase"
	pkgch "CapTrack/pkg/clickhouse"
	"CapTrack/pkg/config"
	xhttp "CapTrack/pkg/http"
	pkgkafka "CapTrack/pkg/kafka"
	applogger "CapTrack/pkg/logger"
	"CapTrack/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg           *config.Config
	collector     *usecase.FillCollector
	consumer      *pkgkafka.Consumer
	kh            pkgkafka.MessageHandler
	chClient      *pkgch.Client
	queueConsumer *queue.RedisQueue
	httpServer    *xhttp.Server
	httpHandler   xhttp.Handler
	opsServer     *http.Server
	reportUC      *usecase.CapacityReportUseCase
	logPublisher  applogger.Publisher
	SnapProc      *usecase.SnapshotProcessor
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	collector *usecase.FillCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		chClient:  chClient,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// SetReportUseCase allows DI to inject the read-side usecase for the
// fallback HTTP handler.
func (a *App) SetReportUseCase(uc *usecase.CapacityReportUseCase) { a.reportUC = uc }

// SetQueueConsumer allows DI to inject the Redis queue consumer used
// by the async persistence backend.
func (a *App) SetQueueConsumer(q *queue.RedisQueue) { a.queueConsumer = q }

// SetLogPublisher enables error-log aggregation: repeated errors are
// deduplicated and shipped in batches through the publisher.
func (a *App) SetLogPublisher(p applogger.Publisher) { a.logPublisher = p }

// opsCache picks the byte cache behind the ops listener: Redis when
// enabled so replicas share hits, in-process otherwise.
func (a *App) opsCache() icache.BytesCache {
	if a.cfg.Redis.Cache.Enabled && a.cfg.Redis.Addr != "" {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init app logger (console info by default)
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	if a.logPublisher != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          "captrack-logs",
			Publisher:      a.logPublisher,
		})
		defer l.RemoveCollector()
	}

	// Setup Echo HTTP server using pkg/http and register routes via handler
	var httpHandler xhttp.Handler
	if a.httpHandler != nil {
		httpHandler = a.httpHandler
	} else if a.reportUC != nil {
		httpHandler = api.NewCapacityEchoHandler(l, a.reportUC)
	}

	a.httpServer = xhttp.NewServer(httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Start the fill collector when a stream is configured
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("collector error", applogger.Error(err))
			}
		}()
		l.Info("collector started", applogger.Strings("symbols", a.cfg.Stream.Symbols))
	}

	// Start Kafka consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	// Start Redis queue consumer if the queue backend is configured
	if a.queueConsumer != nil {
		if err := a.queueConsumer.Start(); err != nil {
			l.Error("queue consumer start error", applogger.Error(err))
			return err
		}
		l.Info("queue consumer started")
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Optional plain net/http listener with its own rate limiting and
	// byte-level response cache, for deployments that front the Echo
	// port with a gateway but still want direct reads.
	if a.cfg.Server.OpsPort > 0 && a.reportUC != nil {
		ops := api.NewCapacityHandler(a.reportUC)
		ops.SetLogger(l)
		ops.SetCache(a.opsCache())
		a.opsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", a.cfg.Server.OpsPort),
			Handler:      ops.Routes(),
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
		}
		go func() {
			if err := a.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Error("ops server error", applogger.Error(err))
			}
		}()
		l.Info("ops server started", applogger.Int("port", a.cfg.Server.OpsPort))
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services. The collector goes first so
// its final forced settlement is routed before the backends close.
func (a *App) shutdown(ctx context.Context) error {
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		return fmt.Errorf("shutdown logger: %w", err)
	}
	l.Info("shutting down...")

	// Stop collector (pipeline + stream), flushing the last settlement
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(shutdownCtx); err != nil {
			l.Warn("ops server shutdown error", applogger.Error(err))
		}
	}

	// Stop consumer before closing the backends it routes into
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Drain the persistence queue
	if a.queueConsumer != nil {
		if err := a.queueConsumer.Stop(shutdownCtx); err != nil {
			l.Warn("queue consumer stop error", applogger.Error(err))
		}
	}

	// Close snapshot processor resources (publisher/storage)
	if a.SnapProc != nil {
		a.SnapProc.Close()
	}

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
