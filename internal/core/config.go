package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire logwarden configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Detector DetectorConfig `yaml:"detector"`
	Training TrainingConfig `yaml:"training"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Bus      BusConfig      `yaml:"bus"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	DataDir  string         `yaml:"data_dir"`
}

// StoreConfig holds column-store connection settings.
type StoreConfig struct {
	// Backend selects the store implementation: "clickhouse" or "memory".
	// The memory backend exists for local development and tests.
	Backend     string `yaml:"backend"`
	Addr        string `yaml:"addr"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	EventsTable string `yaml:"events_table"`
	AlertsTable string `yaml:"alerts_table"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DetectorConfig holds scoring loop settings.
type DetectorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// TrainingConfig holds model training settings.
type TrainingConfig struct {
	// Cadence is how often the background trainer attempts a retrain.
	Cadence time.Duration `yaml:"cadence"`
	// WindowSize is the number of most recent already-scored events used as
	// the training window.
	WindowSize int `yaml:"window_size"`
	// MinSamples is the minimum window size below which training returns
	// ErrInsufficientData and the previous model stays active.
	MinSamples int `yaml:"min_samples"`
	// Contamination is the expected fraction of outliers in the training
	// window. It shapes the fitted decision boundary; it is not a hard
	// threshold on scores.
	Contamination float64 `yaml:"contamination"`
	NumTrees      int     `yaml:"num_trees"`
	SampleSize    int     `yaml:"sample_size"`
	// Seed makes tree construction reproducible. Zero means seed from the
	// training run's start time.
	Seed int64 `yaml:"seed"`
}

// AlertsConfig holds alert writer settings.
type AlertsConfig struct {
	// SuppressionWindow is how long repeated anomalies with the same dedup
	// key produce no additional alert.
	SuppressionWindow time.Duration `yaml:"suppression_window"`
	// Severity breakpoints on the anomaly score. Scores at or below a
	// breakpoint map to that tier; anything anomalous above MediumBelow is
	// LOW. These are alerting policy, independent of the model's decision
	// boundary.
	MediumBelow   float64 `yaml:"medium_below"`
	HighBelow     float64 `yaml:"high_below"`
	CriticalBelow float64 `yaml:"critical_below"`

	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	EnableConsole  bool          `yaml:"enable_console"`
	// WebhookURLs receive every raised alert as a JSON POST.
	WebhookURLs []string `yaml:"webhook_urls"`
}

// BusConfig holds NATS alert bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// MetricsConfig holds the Prometheus exposition endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out of the box.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     "clickhouse",
			Addr:        "127.0.0.1:9000",
			Database:    "logwarden",
			EventsTable: "events",
			AlertsTable: "alerts",
			DialTimeout: 5 * time.Second,
		},
		Detector: DetectorConfig{
			PollInterval:   10 * time.Second,
			BatchSize:      500,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
		},
		Training: TrainingConfig{
			Cadence:       30 * time.Minute,
			WindowSize:    5000,
			MinSamples:    100,
			Contamination: 0.05,
			NumTrees:      100,
			SampleSize:    256,
		},
		Alerts: AlertsConfig{
			SuppressionWindow: 10 * time.Minute,
			MediumBelow:       -0.05,
			HighBelow:         -0.10,
			CriticalBelow:     -0.15,
			MaxRetries:        5,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			EnableConsole:     true,
		},
		Bus: BusConfig{
			Enabled:  false,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9187",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		DataDir: "./data",
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Detector.BatchSize <= 0 {
		return fmt.Errorf("detector.batch_size must be positive, got %d", c.Detector.BatchSize)
	}
	if c.Detector.PollInterval <= 0 {
		return fmt.Errorf("detector.poll_interval must be positive, got %s", c.Detector.PollInterval)
	}
	if c.Training.Contamination <= 0 || c.Training.Contamination >= 0.5 {
		return fmt.Errorf("training.contamination must be in (0, 0.5), got %g", c.Training.Contamination)
	}
	if c.Training.MinSamples <= 0 {
		return fmt.Errorf("training.min_samples must be positive, got %d", c.Training.MinSamples)
	}
	if c.Training.WindowSize < c.Training.MinSamples {
		return fmt.Errorf("training.window_size (%d) must be at least training.min_samples (%d)",
			c.Training.WindowSize, c.Training.MinSamples)
	}
	if c.Alerts.SuppressionWindow < 0 {
		return fmt.Errorf("alerts.suppression_window must not be negative, got %s", c.Alerts.SuppressionWindow)
	}
	if !(c.Alerts.CriticalBelow <= c.Alerts.HighBelow && c.Alerts.HighBelow <= c.Alerts.MediumBelow) {
		return fmt.Errorf("alert severity breakpoints must satisfy critical_below <= high_below <= medium_below")
	}
	switch c.Store.Backend {
	case "clickhouse", "memory":
	default:
		return fmt.Errorf("store.backend must be \"clickhouse\" or \"memory\", got %q", c.Store.Backend)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must be set when metrics are enabled")
	}
	return nil
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}
