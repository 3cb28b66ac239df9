package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

// WithConsumerGroupID sets the consumer group.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerWorkers sets the number of handler goroutines.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) { c.WorkerCount = count }
}

// WithConsumerRetry configures retry attempts and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets the dead-letter topic for messages that exhaust retries.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerBufferSize sets the internal channel buffer size.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// Consumer reads one or more topics and dispatches each message to its
// registered handler through a bounded worker pool. Per-partition
// ordering is preserved: at most one message per (topic, partition) is
// in a handler at any time.
type Consumer struct {
	cfg      *ConsumerConfig
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	inbox    chan *inbound
	dlq      *kafka.Writer
	partTab  map[string]map[int]*sync.Mutex
	partTabM sync.Mutex
	hook     ConsumerHook
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type inbound struct {
	topic string
	data  []byte
	km    kafka.Message
}

// NewConsumer creates a Kafka consumer. Handlers are attached with
// RegisterHandler before Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "default",
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		inbox:    make(chan *inbound, cfg.BufferSize),
		partTab:  make(map[string]map[int]*sync.Mutex),
		hook:     NoopHook{},
		stop:     make(chan struct{}),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler attaches a handler for its topic. The first handler
// registered for a topic wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		log.Warn().Str("topic", topic).Msg("kafka consumer: handler already registered")
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook attaches a lifecycle hook. Nil hooks are ignored.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start spawns one reader per registered topic and the worker pool.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.readLoop(topic, reader)
	}

	log.Info().
		Int("workers", c.cfg.WorkerCount).
		Int("topics", len(c.readers)).
		Msg("kafka consumer: started")
	return nil
}

// Stop drains the consumer. It unblocks readers and workers, waits for
// them up to the context deadline, then closes the underlying readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.stop)
		close(c.inbox)
		stopErr = c.awaitShutdown(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("kafka consumer: reader close")
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				log.Error().Err(err).Msg("kafka consumer: dlq close")
			}
		}
	})
	return stopErr
}

func (c *Consumer) awaitShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("consumer shutdown: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				log.Error().Err(err).Str("topic", topic).Msg("kafka consumer: read")
			}
			continue
		}
		if !c.enqueue(&inbound{topic: topic, data: msg.Value, km: msg}) {
			return
		}
	}
}

// enqueue blocks until the message is queued or the consumer stops.
// Rather than dropping on a full inbox it backs off, so slow handlers
// show up as consumer lag instead of data loss.
func (c *Consumer) enqueue(in *inbound) bool {
	for {
		select {
		case c.inbox <- in:
			consumerQueueDepth().WithLabelValues(in.topic).Set(float64(len(c.inbox)))
			return true
		case <-c.stop:
			return false
		default:
			full := float64(len(c.inbox)) / float64(cap(c.inbox))
			consumerQueueFullness().WithLabelValues(in.topic).Set(full)
			if full > 0.8 {
				time.Sleep(10 * time.Millisecond)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func (c *Consumer) worker() {
	defer c.wg.Done()

	for in := range c.inbox {
		handler, ok := c.handlers[in.topic]
		if !ok {
			continue
		}
		start := time.Now()
		c.dispatch(handler, in)
		consumerHandleLatency().WithLabelValues(in.topic).Observe(time.Since(start).Seconds())
	}
}

// dispatch runs the handler with retries, hooks, DLQ fallback, and an
// offset commit. The per-partition lock keeps handling ordered within
// a partition even with multiple workers.
func (c *Consumer) dispatch(handler MessageHandler, in *inbound) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", in.topic).Interface("panic", r).Msg("kafka consumer: handler panic")
		}
	}()

	mu := c.partitionLock(in.topic, in.km.Partition)
	mu.Lock()
	defer mu.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), in.topic, in.km, in.data)
		if berr != nil {
			err = berr
			break
		}
		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, in.topic, hmsg, hdata, err)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		c.hook.OnError(hctx, in.topic, hmsg, hdata, err)
		select {
		case <-time.After(jitterBackoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.stop:
			return
		}
	}

	if err != nil {
		c.hook.OnError(context.Background(), in.topic, in.km, in.data, err)
		log.Error().Err(err).Str("topic", in.topic).Int("attempts", attempts).Msg("kafka consumer: handle failed")
		c.deadLetter(in)
	}

	// Commit on success, or after DLQ so a poison message cannot wedge
	// the partition.
	if err == nil || c.dlq != nil {
		if reader := c.readers[in.topic]; reader != nil {
			c.commit(reader, in.km)
		}
	}
}

func (c *Consumer) deadLetter(in *inbound) {
	if c.dlq == nil {
		return
	}
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Value:   in.data,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(in.topic)}},
	})
	if err != nil {
		log.Error().Err(err).Str("dlq", c.cfg.DLQTopic).Msg("kafka consumer: dlq write")
	}
}

func (c *Consumer) commit(reader *kafka.Reader, km kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(jitterBackoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	log.Error().Err(err).Msg("kafka consumer: commit failed")
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.partTabM.Lock()
	defer c.partTabM.Unlock()

	m, ok := c.partTab[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.partTab[topic] = m
	}
	mu, ok := m[partition]
	if !ok {
		mu = &sync.Mutex{}
		m[partition] = mu
	}
	return mu
}

func jitterBackoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max {
		exp = max
	}
	// jitter up to 50%
	return exp - time.Duration(rand.Int63n(int64(exp)/2))
}

var (
	consumerMetricsOnce sync.Once
	queueDepthVec       *prometheus.GaugeVec
	queueFullnessVec    *prometheus.GaugeVec
	handleLatencyVec    *prometheus.HistogramVec
)

func initConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		queueDepthVec = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "captrack_kafka_consumer_queue_depth", Help: "Messages waiting in the consumer inbox"},
			[]string{"topic"},
		)
		queueFullnessVec = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "captrack_kafka_consumer_queue_fullness", Help: "Inbox utilization ratio (len/cap)"},
			[]string{"topic"},
		)
		handleLatencyVec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "captrack_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	})
}

func consumerQueueDepth() *prometheus.GaugeVec {
	initConsumerMetrics()
	return queueDepthVec
}

func consumerQueueFullness() *prometheus.GaugeVec {
	initConsumerMetrics()
	return queueFullnessVec
}

func consumerHandleLatency() *prometheus.HistogramVec {
	initConsumerMetrics()
	return handleLatencyVec
}
