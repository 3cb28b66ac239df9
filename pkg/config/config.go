package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		OpsPort         int           `yaml:"ops_port"` // optional plain net/http listener
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers        []string `yaml:"brokers"`
		FillsTopic     string   `yaml:"fills_topic"`
		SnapshotsTopic string   `yaml:"snapshots_topic"`
		RequiredAcks   int      `yaml:"required_acks"`
		Compression    string   `yaml:"compression"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Cache    struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"cache"`
		Queue struct {
			Workers int `yaml:"workers"`
		} `yaml:"queue"`
	} `yaml:"redis"`
	Stream struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"stream"`
	Portfolio struct {
		Mode         string        `yaml:"mode"` // book or http
		ServiceURL   string        `yaml:"service_url"`
		Timeout      time.Duration `yaml:"timeout"`
		StartingCash float64       `yaml:"starting_cash"`
	} `yaml:"portfolio"`
	Capacity struct {
		Start             string        `yaml:"start"` // RFC3339
		End               string        `yaml:"end"`
		ParticipationRate float64       `yaml:"participation_rate"`
		WindowTrades      int           `yaml:"window_trades"`
		StepInterval      time.Duration `yaml:"step_interval"`
	} `yaml:"capacity"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("STREAM_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_FILLS_TOPIC"); v != "" {
		c.Kafka.FillsTopic = v
	}
	if v := os.Getenv("KAFKA_SNAPSHOTS_TOPIC"); v != "" {
		c.Kafka.SnapshotsTopic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("PORTFOLIO_SERVICE_URL"); v != "" {
		c.Portfolio.ServiceURL = v
	}

	return c, nil
}

// CapacityStart parses the configured run start, defaulting to now.
func (c *Config) CapacityStart() (time.Time, error) {
	if c.Capacity.Start == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, c.Capacity.Start)
}

// CapacityEnd parses the configured run end, defaulting to 90 days
// after start.
func (c *Config) CapacityEnd(start time.Time) (time.Time, error) {
	if c.Capacity.End == "" {
		return start.AddDate(0, 3, 0), nil
	}
	return time.Parse(time.RFC3339, c.Capacity.End)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	switch c.Backend.Type {
	case "kafka", "clickhouse", "queue":
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'queue', got '%s'", c.Backend.Type)
	}
	if c.Server.OpsPort != 0 && c.Server.OpsPort == c.Server.Port {
		return fmt.Errorf("server.ops_port must differ from server.port")
	}
	if c.Backend.Type == "queue" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the queue backend")
	}
	if c.Stream.WebSocketURL == "" && c.Kafka.FillsTopic == "" {
		return fmt.Errorf("either stream.websocket_url or kafka.fills_topic is required")
	}
	if c.Portfolio.Mode == "http" && c.Portfolio.ServiceURL == "" {
		return fmt.Errorf("portfolio.service_url is required in http mode")
	}
	if c.Capacity.Start != "" {
		if _, err := time.Parse(time.RFC3339, c.Capacity.Start); err != nil {
			return fmt.Errorf("capacity.start: %w", err)
		}
	}
	if c.Capacity.End != "" {
		if _, err := time.Parse(time.RFC3339, c.Capacity.End); err != nil {
			return fmt.Errorf("capacity.end: %w", err)
		}
	}
	if c.Capacity.ParticipationRate < 0 || c.Capacity.ParticipationRate >= 1 {
		return fmt.Errorf("capacity.participation_rate must be in [0, 1)")
	}
	if c.Capacity.WindowTrades < 0 {
		return fmt.Errorf("capacity.window_trades cannot be negative")
	}
	return nil
}
