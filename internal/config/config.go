// Package config provides centralized configuration for the IDS service.
// Values come from built-in defaults, an optional YAML file and
// environment variables, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Paths     PathConfig      `yaml:"paths"`
	Capture   CaptureConfig   `yaml:"capture"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Training  TrainingConfig  `yaml:"training"`
	Auth      AuthConfig      `yaml:"auth"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// StreamRate is the maximum number of WebSocket messages per second per client.
	StreamRate float64 `yaml:"stream_rate"`
	// Pprof mounts the runtime profiling handlers under /debug/pprof/.
	Pprof bool `yaml:"pprof"`
}

// CaptureConfig configures the packet capture engine.
type CaptureConfig struct {
	// Interface is the default capture interface. Empty selects one automatically.
	Interface   string `yaml:"interface"`
	SnapLen     int    `yaml:"snap_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
}

// MonitorConfig sizes the traffic monitor buffers.
type MonitorConfig struct {
	PacketHistory     int           `yaml:"packet_history"`
	PredictionHistory int           `yaml:"prediction_history"`
	GraphPoints       int           `yaml:"graph_points"`
	FlowTimeout       time.Duration `yaml:"flow_timeout"`
	MaxFlows          int           `yaml:"max_flows"`
	// AlertLabels are extra labels treated as malicious besides the built-in ones.
	AlertLabels   []string      `yaml:"alert_labels"`
	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
}

// TrainingConfig configures the dataset workflow and trainer.
type TrainingConfig struct {
	Seed        int64 `yaml:"seed"`
	MaxDepth    int   `yaml:"max_depth"`
	ForestTrees int   `yaml:"forest_trees"`
	Workers     int   `yaml:"workers"`
}

// AuthConfig configures the optional session login.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Users      []User        `yaml:"users"`
}

// User is a login account. PasswordHash is a bcrypt hash; Password is
// accepted for convenience and hashed at startup.
type User struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// MQTTConfig configures alert publishing. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ProfilingConfig configures profile files. An empty Dir disables them.
type ProfilingConfig struct {
	Dir      string        `yaml:"dir"`
	CPU      bool          `yaml:"cpu"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns a Config with every value set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:5000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			MaxUploadBytes:  256 << 20,
			ShutdownTimeout: 10 * time.Second,
			StreamRate:      10,
		},
		Paths: DefaultPathConfig(),
		Capture: CaptureConfig{
			SnapLen:     65535,
			Promiscuous: true,
		},
		Monitor: MonitorConfig{
			PacketHistory:     1000,
			PredictionHistory: 100,
			GraphPoints:       50,
			FlowTimeout:       120 * time.Second,
			MaxFlows:          50000,
			BatchSize:         100,
			BatchInterval:     250 * time.Millisecond,
		},
		Training: TrainingConfig{
			Seed:        42,
			ForestTrees: 50,
			Workers:     3,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			ClientID:    "optimizing-ids",
			TopicPrefix: "ids",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults and
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies IDS_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("IDS_UPLOAD_DIR"); v != "" {
		c.Paths.UploadDir = v
	}
	if v := os.Getenv("IDS_MODEL_DIR"); v != "" {
		c.Paths.ModelDir = v
	}
	if v := os.Getenv("IDS_CAPTURE_CSV"); v != "" {
		c.Paths.CaptureCSV = v
	}
	if v := os.Getenv("IDS_REPLAY_DIR"); v != "" {
		c.Paths.ReplayDir = v
	}
	if v := os.Getenv("IDS_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("IDS_INTERFACE"); v != "" {
		c.Capture.Interface = v
	}
	if v := os.Getenv("IDS_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("IDS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the values a running service depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Paths.UploadDir == "" {
		errs = append(errs, errors.New("paths.upload_dir is required"))
	}
	if c.Paths.ModelDir == "" {
		errs = append(errs, errors.New("paths.model_dir is required"))
	}
	if c.Monitor.PacketHistory <= 0 || c.Monitor.PredictionHistory <= 0 || c.Monitor.GraphPoints <= 0 {
		errs = append(errs, errors.New("monitor history sizes must be positive"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Auth.Enabled && len(c.Auth.Users) == 0 {
		errs = append(errs, errors.New("auth.enabled requires at least one user"))
	}
	for _, u := range c.Auth.Users {
		if strings.TrimSpace(u.Username) == "" {
			errs = append(errs, errors.New("auth user without username"))
		}
		if u.Password == "" && u.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("auth user %q has no password", u.Username))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
