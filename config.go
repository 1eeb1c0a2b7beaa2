package chanscan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the top-level YAML configuration shape for chanscand,
// structured the way the teacher's Config struct nests concern-specific
// sub-structs under yaml tags (config.go, madpsy-ka9q_ubersdr).
type AppConfig struct {
	Hardware  HardwareConfig  `yaml:"hardware"`
	Scan      ScanConfig      `yaml:"scan"`
	Frequency FrequencyConfig `yaml:"frequency"`
	Logger    LoggerConfig    `yaml:"logger"`
	MQTT      MQTTLoggerConfig `yaml:"mqtt"`
	Websocket WebsocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// HardwareConfig carries the receiver-facing knobs of spec.md §6's
// command line surface.
type HardwareConfig struct {
	SampleRate     int64   `yaml:"sample_rate"`      // Hz
	NumDemod       int     `yaml:"num_demod"`        // demodulator pool size
	ChannelSpacing int64   `yaml:"channel_spacing"`  // Hz
	SquelchDB      float64 `yaml:"squelch_db"`
	VolumeDB       float64 `yaml:"volume_db"`
	Sim            bool    `yaml:"sim"` // use the built-in SimulatedReceiver
}

// ScanConfig carries the scheduler tunables of spec.md §4.5 plus the
// center-frequency provider's dwell timers of §4.2.
type ScanConfig struct {
	ThresholdDB   float64       `yaml:"threshold_db"`
	HangTime      time.Duration `yaml:"hang_time"`
	MaxRecording  time.Duration `yaml:"max_recording"`
	QuietTimeout  time.Duration `yaml:"quiet_timeout"`
	ActiveTimeout time.Duration `yaml:"active_timeout"`
	Record        bool          `yaml:"record"`
	AutoPriority  bool          `yaml:"auto_priority"`
	DisableLockout  bool        `yaml:"disable_lockout"`
	DisablePriority bool        `yaml:"disable_priority"`
}

// FrequencyConfig points at the frequency list file consumed by
// FrequencyRegistry.Load and the ranges/singles the center frequency
// provider steps through.
type FrequencyConfig struct {
	File    string            `yaml:"file"`
	Singles []FrequencySingle `yaml:"singles"`
	Ranges  []FrequencyRange  `yaml:"ranges"`
}

// LoggerConfig selects the channel logger and the §4.6 act-repeat
// interval shared by every logger type (ActivityPipeline.LogTimeout).
type LoggerConfig struct {
	Type    string        `yaml:"type"` // "", "debug", "fixed-field", "json-http"
	Target  string        `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTTLoggerConfig configures the optional MQTT-publishing logger
// variant, adapted from the teacher's mqtt_publisher.go.
type MQTTLoggerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
	TLS      struct {
		Enabled            bool   `yaml:"enabled"`
		CAFile             string `yaml:"ca_file"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"tls"`
}

// WebsocketConfig configures the UI push server, adapted from the
// teacher's user_spectrum_websocket.go.
type WebsocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// defaultAppConfig mirrors the teacher's pattern of filling in zero
// values after Unmarshal rather than using distinct "unset" sentinels.
func defaultAppConfig() AppConfig {
	return AppConfig{
		Hardware: HardwareConfig{
			SampleRate:     2_400_000,
			NumDemod:       4,
			ChannelSpacing: 5_000,
			SquelchDB:      -60,
		},
		Scan: ScanConfig{
			ThresholdDB:   10,
			HangTime:      1 * time.Second,
			QuietTimeout:  10 * time.Second,
			ActiveTimeout: 60 * time.Second,
		},
		Logger: LoggerConfig{
			Timeout: 5 * time.Second,
		},
		Websocket: WebsocketConfig{
			Addr: ":8765",
			Path: "/ws",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// LoadAppConfig reads and parses path, filling defaults for anything the
// file leaves zero. A missing or malformed file is a fatal condition
// for the caller to report (it is not wrapped in ConfigError here since
// that type is reserved for FrequencyRegistry's own loading, per §7).
func LoadAppConfig(path string) (AppConfig, error) {
	cfg := defaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Hardware.SampleRate == 0 {
		cfg.Hardware.SampleRate = 2_400_000
	}
	if cfg.Hardware.NumDemod == 0 {
		cfg.Hardware.NumDemod = 4
	}
	if cfg.Hardware.ChannelSpacing == 0 {
		cfg.Hardware.ChannelSpacing = 5_000
	}
	if cfg.Scan.QuietTimeout == 0 {
		cfg.Scan.QuietTimeout = 10 * time.Second
	}
	if cfg.Scan.ActiveTimeout == 0 {
		cfg.Scan.ActiveTimeout = 60 * time.Second
	}
	if cfg.Websocket.Addr == "" {
		cfg.Websocket.Addr = ":8765"
	}
	if cfg.Websocket.Path == "" {
		cfg.Websocket.Path = "/ws"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return cfg, nil
}
