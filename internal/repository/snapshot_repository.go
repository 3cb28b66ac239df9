package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
	"CapTrack/internal/domain/repository"
	pkgkafka "CapTrack/pkg/kafka"
	applogger "CapTrack/pkg/logger"
)

// ClickHouseSnapshotStore implements SnapshotStore for ClickHouse.
// Monetary columns are stored as Float64; the decimal history that
// drives the engine's mean/min lives in memory, the store only serves
// reporting queries.
type ClickHouseSnapshotStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewClickHouseSnapshotStore creates ClickHouse snapshot storage.
func NewClickHouseSnapshotStore(db *sql.DB, table string) *ClickHouseSnapshotStore {
	return &ClickHouseSnapshotStore{db: db, table: table}
}

var _ repository.SnapshotStore = (*ClickHouseSnapshotStore)(nil)

// SetLogger injects a structured logger.
func (s *ClickHouseSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *ClickHouseSnapshotStore) Init(ctx context.Context) error {
	return nil // Schema init in pkg
}

func (s *ClickHouseSnapshotStore) Store(ctx context.Context, snap *models.CapacitySnapshot) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, capacity, mean_capacity, min_capacity, bottleneck, scaling_factor, sale_volume_share, buying_power_share, daily_capacity, tracked_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q, snapshotArgs(snap)...)
	return err
}

func (s *ClickHouseSnapshotStore) StoreBatch(ctx context.Context, snaps []*models.CapacitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	values := make([]string, 0, len(snaps))
	args := make([]interface{}, 0, len(snaps)*10)
	for _, snap := range snaps {
		if snap == nil || snap.Time.IsZero() {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, snapshotArgs(snap)...)
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, capacity, mean_capacity, min_capacity, bottleneck, scaling_factor, sale_volume_share, buying_power_share, daily_capacity, tracked_count) VALUES %s", s.table, strings.Join(values, ","))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func snapshotArgs(snap *models.CapacitySnapshot) []interface{} {
	return []interface{}{
		snap.Time,
		snap.Capacity.InexactFloat64(),
		snap.MeanCapacity.InexactFloat64(),
		snap.MinimumCapacity.InexactFloat64(),
		snap.Bottleneck,
		snap.ScalingFactor.InexactFloat64(),
		snap.SaleVolumeShare.InexactFloat64(),
		snap.BuyingPowerShare.InexactFloat64(),
		snap.DailyCapacity.InexactFloat64(),
		uint32(snap.TrackedCount),
	}
}

func (s *ClickHouseSnapshotStore) Query(ctx context.Context, from, to time.Time, limit int) ([]*models.CapacitySnapshot, error) {
	start := time.Now()
	q := fmt.Sprintf("SELECT ts, capacity, mean_capacity, min_capacity, bottleneck, scaling_factor, sale_volume_share, buying_power_share, daily_capacity, tracked_count FROM %s WHERE ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, from, to, limit)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse snapshot query error",
				applogger.String("table", s.table),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CapacitySnapshot, 0, 128)
	for rows.Next() {
		var (
			snap                        models.CapacitySnapshot
			cap_, mean, min_            float64
			scaling, saleShare, bpShare float64
			daily                       float64
			tracked                     uint32
		)
		if err := rows.Scan(&snap.Time, &cap_, &mean, &min_, &snap.Bottleneck, &scaling, &saleShare, &bpShare, &daily, &tracked); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Capacity = decimal.NewFromFloat(cap_)
		snap.MeanCapacity = decimal.NewFromFloat(mean)
		snap.MinimumCapacity = decimal.NewFromFloat(min_)
		snap.ScalingFactor = decimal.NewFromFloat(scaling)
		snap.SaleVolumeShare = decimal.NewFromFloat(saleShare)
		snap.BuyingPowerShare = decimal.NewFromFloat(bpShare)
		snap.DailyCapacity = decimal.NewFromFloat(daily)
		snap.TrackedCount = int(tracked)
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse snapshot query ok",
			applogger.String("table", s.table),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *ClickHouseSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseSnapshotStore) Close() error {
	return nil // Managed by pkg
}

// KafkaSnapshotPublisher implements SnapshotPublisher for Kafka.
type KafkaSnapshotPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaSnapshotPublisher creates a Kafka snapshot publisher.
func NewKafkaSnapshotPublisher(producer *pkgkafka.Producer, topic string) repository.SnapshotPublisher {
	return &KafkaSnapshotPublisher{producer: producer, topic: topic}
}

func (p *KafkaSnapshotPublisher) Publish(ctx context.Context, s *models.CapacitySnapshot) error {
	return p.producer.Publish(ctx, p.topic, []byte(s.Bottleneck), s)
}

func (p *KafkaSnapshotPublisher) PublishBatch(ctx context.Context, snaps []*models.CapacitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(snaps))
	for i, s := range snaps {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(s.Bottleneck),
			Value: s,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaSnapshotPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
