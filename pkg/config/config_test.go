package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
environment: test
backend:
  type: clickhouse
stream:
  websocket_url: wss://example.com/ws
capacity:
  start: "2024-03-01T00:00:00Z"
  end: "2024-06-01T00:00:00Z"
  participation_rate: 0.05
  window_trades: 10
`

func TestLoadValidConfig(t *testing.T) {
	c, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Backend.Type != "clickhouse" {
		t.Fatalf("backend type = %q", c.Backend.Type)
	}
	if c.Capacity.ParticipationRate != 0.05 {
		t.Fatalf("participation rate = %v", c.Capacity.ParticipationRate)
	}
	start, err := c.CapacityStart()
	if err != nil {
		t.Fatalf("CapacityStart: %v", err)
	}
	end, err := c.CapacityEnd(start)
	if err != nil {
		t.Fatalf("CapacityEnd: %v", err)
	}
	if !end.After(start) {
		t.Fatalf("end %v not after start %v", end, start)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	body := `
environment: test
backend:
  type: s3
stream:
  websocket_url: wss://example.com/ws
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for unknown backend type")
	}
}

func TestLoadRejectsQueueBackendWithoutRedis(t *testing.T) {
	body := `
environment: test
backend:
  type: queue
stream:
  websocket_url: wss://example.com/ws
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for queue backend without redis addr")
	}
}

func TestLoadRejectsMissingIngestSource(t *testing.T) {
	body := `
environment: test
backend:
  type: clickhouse
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error when neither stream nor fills topic is set")
	}
}

func TestLoadRejectsBadParticipationRate(t *testing.T) {
	body := `
environment: test
backend:
  type: clickhouse
stream:
  websocket_url: wss://example.com/ws
capacity:
  participation_rate: 1.5
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for participation rate out of range")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_FILLS_TOPIC", "fills")

	c, err := LoadWithEnv(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if c.Backend.Type != "kafka" {
		t.Fatalf("backend type = %q, want kafka", c.Backend.Type)
	}
	if len(c.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", c.Kafka.Brokers)
	}
	if c.Kafka.FillsTopic != "fills" {
		t.Fatalf("fills topic = %q", c.Kafka.FillsTopic)
	}
}
