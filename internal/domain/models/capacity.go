package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapacitySnapshot is one settled capacity observation. A snapshot is
// produced when the engine closes a measurement window; it is the unit
// routed to Kafka/ClickHouse by the snapshot processor.
type CapacitySnapshot struct {
	Time             time.Time       `json:"time"`
	Capacity         decimal.Decimal `json:"capacity"`
	MeanCapacity     decimal.Decimal `json:"mean_capacity"`
	MinimumCapacity  decimal.Decimal `json:"minimum_capacity"`
	Bottleneck       string          `json:"bottleneck"`
	ScalingFactor    decimal.Decimal `json:"scaling_factor"`
	SaleVolumeShare  decimal.Decimal `json:"sale_volume_share"`
	BuyingPowerShare decimal.Decimal `json:"buying_power_share"`
	DailyCapacity    decimal.Decimal `json:"daily_capacity"`
	TrackedCount     int             `json:"tracked_count"`
}

// BottleneckStat records how often an instrument has been identified
// as the capacity bottleneck and a slow exponential average of the
// capacity observed on those occasions.
type BottleneckStat struct {
	Occurrences int             `json:"occurrences"`
	Smoothed    decimal.Decimal `json:"smoothed"`
}

// BottleneckEntry is a per-instrument row in a capacity report.
type BottleneckEntry struct {
	Symbol      string          `json:"symbol"`
	Occurrences int             `json:"occurrences"`
	Smoothed    decimal.Decimal `json:"smoothed"`
}

// CapacityReport is the read model served by the capacity API.
type CapacityReport struct {
	Timestamp          time.Time         `json:"timestamp"`
	Capacity           decimal.Decimal   `json:"capacity"`
	MinimumCapacity    decimal.Decimal   `json:"minimum_capacity"`
	Settlements        int               `json:"settlements"`
	TrackedInstruments int               `json:"tracked_instruments"`
	LowestCapacity     string            `json:"lowest_capacity_instrument,omitempty"`
	MostFrequent       string            `json:"most_frequent_bottleneck,omitempty"`
	Bottlenecks        []BottleneckEntry `json:"bottlenecks,omitempty"`
}
