// Package config loads the gesture daemon configuration: built-in defaults,
// overlaid by an optional YAML file, overlaid by GESTURE_* environment
// variables.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/gesture/internal/acquire"
	"github.com/banshee-data/gesture/internal/decision"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/sample"
	"github.com/banshee-data/gesture/internal/serialmux"
	"github.com/banshee-data/gesture/internal/sink"
)

// Config is the root configuration.
type Config struct {
	Serial    SerialConfig             `koanf:"serial"`
	Replay    ReplayConfig             `koanf:"replay"`
	Pipeline  PipelineConfig           `koanf:"pipeline"`
	Model     ModelConfig              `koanf:"model"`
	Decision  DecisionConfig           `koanf:"decision"`
	Output    OutputConfig             `koanf:"output"`
	HTTP      HTTPConfig               `koanf:"http"`
	Recording RecordingConfig          `koanf:"recording"`
	Logging   monitoring.LoggingConfig `koanf:"logging"`
}

type SerialConfig struct {
	Port         string        `koanf:"port"`
	BaudRate     int           `koanf:"baud_rate"`
	DataBits     int           `koanf:"data_bits"`
	StopBits     int           `koanf:"stop_bits"`
	Parity       string        `koanf:"parity"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	Buffer       int           `koanf:"buffer"`
	InitCommands []string      `koanf:"init_commands"`
}

// PortOptions converts the section into serial port options.
func (s SerialConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate:    s.BaudRate,
		DataBits:    s.DataBits,
		StopBits:    s.StopBits,
		Parity:      s.Parity,
		ReadTimeout: s.ReadTimeout,
	}
}

// ReplayConfig replaces the serial device with a recorded CSV when Path
// is set.
type ReplayConfig struct {
	Path   string  `koanf:"path"`
	RateHz float64 `koanf:"rate_hz"`
	Loop   bool    `koanf:"loop"`
}

type PipelineConfig struct {
	Features     int     `koanf:"features"`
	SensorRateHz float64 `koanf:"sensor_rate_hz"`
	// WindowSize of zero derives the size from SensorRateHz.
	WindowSize        int           `koanf:"window_size"`
	InferenceInterval time.Duration `koanf:"inference_interval"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	MaxDrain          int           `koanf:"max_drain"`
}

type ModelConfig struct {
	Path       string `koanf:"path"`
	ScalerPath string `koanf:"scaler_path"`
}

type DecisionConfig struct {
	Threshold    float64       `koanf:"threshold"`
	Policy       string        `koanf:"policy"`
	MinInterval  time.Duration `koanf:"min_interval"`
	UnknownLabel string        `koanf:"unknown_label"`
}

type OutputConfig struct {
	Console bool            `koanf:"console"`
	MQTT    sink.MQTTConfig `koanf:"mqtt"`
	// StoreEvents logs every emitted gesture to the recording.db_path
	// database.
	StoreEvents bool `koanf:"store_events"`
}

type HTTPConfig struct {
	Listen string `koanf:"listen"`
}

type RecordingConfig struct {
	CSVPath   string        `koanf:"csv_path"`
	DBPath    string        `koanf:"db_path"`
	Countdown time.Duration `koanf:"countdown"`
}

// windowSeconds is the span of motion one window covers when the size is
// derived from the sensor rate.
const windowSeconds = 0.75

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    serialmux.DefaultBaudRate,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			ReadTimeout: serialmux.DefaultReadTimeout,
			Buffer:      serialmux.DefaultBuffer,
		},
		Replay: ReplayConfig{RateHz: 67},
		Pipeline: PipelineConfig{
			Features:     sample.DefaultFeatures,
			SensorRateHz: 67,
			WindowSize:   50,
			PollInterval: acquire.DefaultPollInterval,
			MaxDrain:     acquire.DefaultMaxDrain,
		},
		Model: ModelConfig{Path: "model.json", ScalerPath: "scaler.json"},
		Decision: DecisionConfig{
			Threshold:    decision.DefaultThreshold,
			Policy:       decision.PolicyChangeOnly.String(),
			MinInterval:  time.Second,
			UnknownLabel: decision.DefaultUnknownLabel,
		},
		Output: OutputConfig{
			Console: true,
			MQTT:    sink.MQTTConfig{Topic: sink.DefaultMQTTTopic, ClientID: "gesture"},
		},
		Recording: RecordingConfig{
			CSVPath:   "gesture_data.csv",
			DBPath:    "recordings.db",
			Countdown: 1500 * time.Millisecond,
		},
		Logging: monitoring.LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// WindowSize returns the configured window length, deriving
// ceil(sensor_rate_hz * 0.75) when window_size is zero.
func (c *Config) WindowSize() int {
	if c.Pipeline.WindowSize > 0 {
		return c.Pipeline.WindowSize
	}
	return int(math.Ceil(c.Pipeline.SensorRateHz * windowSeconds))
}

// EngineConfig builds the decision engine configuration for the given labels.
func (c *Config) EngineConfig(labels []string) (decision.Config, error) {
	policy, err := decision.ParsePolicy(c.Decision.Policy)
	if err != nil {
		return decision.Config{}, err
	}
	return decision.Config{
		Labels:       labels,
		Threshold:    c.Decision.Threshold,
		Policy:       policy,
		MinInterval:  c.Decision.MinInterval,
		UnknownLabel: c.Decision.UnknownLabel,
	}, nil
}

// LoopConfig returns the acquisition loop timing.
func (c *Config) LoopConfig() acquire.Config {
	return acquire.Config{
		InferenceInterval: c.Pipeline.InferenceInterval,
		PollInterval:      c.Pipeline.PollInterval,
		MaxDrain:          c.Pipeline.MaxDrain,
	}
}

// Validate checks the values that would otherwise fail deep inside the
// pipeline. Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Replay.Path == "" && strings.TrimSpace(c.Serial.Port) == "" {
		add("serial.port is required when replay.path is empty")
	}
	if _, err := c.Serial.PortOptions().Normalize(); err != nil {
		add("serial: %v", err)
	}
	if c.Serial.Buffer < 1 {
		add("serial.buffer must be positive, got %d", c.Serial.Buffer)
	}
	if c.Replay.RateHz < 0 {
		add("replay.rate_hz must not be negative, got %v", c.Replay.RateHz)
	}

	if c.Pipeline.Features < 1 {
		add("pipeline.features must be positive, got %d", c.Pipeline.Features)
	}
	if c.Pipeline.WindowSize < 0 {
		add("pipeline.window_size must not be negative, got %d", c.Pipeline.WindowSize)
	}
	if c.Pipeline.WindowSize == 0 && c.Pipeline.SensorRateHz <= 0 {
		add("pipeline.sensor_rate_hz must be positive when window_size is derived")
	}
	if c.Pipeline.InferenceInterval < 0 {
		add("pipeline.inference_interval must not be negative")
	}
	if c.Pipeline.PollInterval <= 0 {
		add("pipeline.poll_interval must be positive")
	}
	if c.Pipeline.MaxDrain < 1 {
		add("pipeline.max_drain must be positive, got %d", c.Pipeline.MaxDrain)
	}

	if c.Model.Path == "" {
		add("model.path is required")
	}
	if c.Model.ScalerPath == "" {
		add("model.scaler_path is required")
	}

	if c.Decision.Threshold < 0 || c.Decision.Threshold > 1 || math.IsNaN(c.Decision.Threshold) {
		add("decision.threshold must be within [0, 1], got %v", c.Decision.Threshold)
	}
	policy, err := decision.ParsePolicy(c.Decision.Policy)
	if err != nil {
		add("decision.policy: %v", err)
	} else if policy == decision.PolicyChangeOrCooldown && c.Decision.MinInterval <= 0 {
		add("decision.min_interval must be positive for %s", policy)
	}

	if c.Output.MQTT.QoS > 2 {
		add("output.mqtt.qos must be 0, 1 or 2, got %d", c.Output.MQTT.QoS)
	}
	if c.Output.StoreEvents && c.Recording.DBPath == "" {
		add("output.store_events needs recording.db_path")
	}
	if c.Recording.Countdown < 0 {
		add("recording.countdown must not be negative")
	}
	if _, err := monitoring.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
