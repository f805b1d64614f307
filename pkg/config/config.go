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
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Calendar struct {
		Timezone string `yaml:"timezone"` // exchange timezone, e.g. America/New_York
	} `yaml:"calendar"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string `yaml:"group_id"`
			MinBytes   int    `yaml:"min_bytes"`
			MaxBytes   int    `yaml:"max_bytes"`
			BufferSize int    `yaml:"buffer_size"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Ingest struct {
		Backend      string        `yaml:"backend"` // kafka or clickhouse
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
		MaxRPS       int           `yaml:"max_rps"`
		BufferSize   int           `yaml:"buffer_size"`
	} `yaml:"ingest"`
	Vendor struct {
		BaseURL         string        `yaml:"base_url"`
		APIKey          string        `yaml:"api_key"`
		Timeout         time.Duration `yaml:"timeout"`
		RateLimitWindow time.Duration `yaml:"rate_limit_window"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"vendor"`
	Stream struct {
		URL            string        `yaml:"url"`
		APIKey         string        `yaml:"api_key"`
		Symbols        []string      `yaml:"symbols"`
		BackoffInitial time.Duration `yaml:"backoff_initial"`
		BackoffMax     time.Duration `yaml:"backoff_max"`
		JitterPct      float64       `yaml:"jitter_pct"`
		NotifyInterval time.Duration `yaml:"notify_interval"`
	} `yaml:"stream"`
	Cache struct {
		CandlesTTL         time.Duration `yaml:"candles_ttl"`
		PostureTTL         time.Duration `yaml:"posture_ttl"`
		DegradedPostureTTL time.Duration `yaml:"degraded_posture_ttl"`
		Redis              struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Market struct {
		FanOutLimit  int           `yaml:"fan_out_limit"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		DupPriceEps  float64       `yaml:"dup_price_eps"`
		DupVolumeEps float64       `yaml:"dup_volume_eps"`
		IndexProxy   string        `yaml:"index_proxy"`
	} `yaml:"market"`
	Industries []IndustryGroup `yaml:"industries"`
}

// IndustryGroup maps an industry classification to its constituent symbols.
type IndustryGroup struct {
	Code    string   `yaml:"code"`
	Abbrev  string   `yaml:"abbrev"`
	Symbols []string `yaml:"symbols"`
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
	c.applyDefaults()

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

	if v := os.Getenv("VENDOR_API_KEY"); v != "" {
		c.Vendor.APIKey = v
	}
	if v := os.Getenv("STREAM_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("INGEST_BACKEND"); v != "" {
		c.Ingest.Backend = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "America/New_York"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Stream.BackoffInitial <= 0 {
		c.Stream.BackoffInitial = 250 * time.Millisecond
	}
	if c.Stream.BackoffMax <= 0 {
		c.Stream.BackoffMax = 10 * time.Second
	}
	if c.Stream.JitterPct <= 0 {
		c.Stream.JitterPct = 0.10
	}
	if c.Stream.NotifyInterval <= 0 {
		c.Stream.NotifyInterval = 100 * time.Millisecond
	}
	if c.Cache.CandlesTTL <= 0 {
		c.Cache.CandlesTTL = 30 * time.Second
	}
	if c.Cache.PostureTTL <= 0 {
		c.Cache.PostureTTL = 60 * time.Second
	}
	if c.Cache.DegradedPostureTTL <= 0 {
		c.Cache.DegradedPostureTTL = 15 * time.Second
	}
	if c.Market.FanOutLimit <= 0 {
		c.Market.FanOutLimit = 8
	}
	if c.Market.FetchTimeout <= 0 {
		c.Market.FetchTimeout = 8 * time.Second
	}
	if c.Market.DupPriceEps <= 0 {
		c.Market.DupPriceEps = 0.001
	}
	if c.Market.DupVolumeEps <= 0 {
		c.Market.DupVolumeEps = 2000
	}
	if c.Vendor.RateLimitWindow <= 0 {
		c.Vendor.RateLimitWindow = time.Minute
	}
	if c.Vendor.BreakerFailures <= 0 {
		c.Vendor.BreakerFailures = 3
	}
	if c.Vendor.BreakerCooldown <= 0 {
		c.Vendor.BreakerCooldown = 30 * time.Second
	}
	if c.Vendor.Timeout <= 0 {
		c.Vendor.Timeout = 5 * time.Second
	}
	if c.Ingest.Backend == "" {
		c.Ingest.Backend = "clickhouse"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Ingest.Backend != "kafka" && c.Ingest.Backend != "clickhouse" {
		return fmt.Errorf("ingest.backend must be 'kafka' or 'clickhouse', got '%s'", c.Ingest.Backend)
	}
	if c.Ingest.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required for kafka ingest backend")
	}
	if c.Market.IndexProxy == "" {
		return fmt.Errorf("market.index_proxy is required")
	}
	if _, err := timeLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("calendar.timezone: %w", err)
	}
	return nil
}

func timeLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}
