package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gesture/internal/acquire"
	"github.com/banshee-data/gesture/internal/decision"
	"github.com/banshee-data/gesture/internal/serialmux"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	require.NoError(t, err)

	if diff := cmp.Diff(New(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 50, cfg.WindowSize())
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 0.85, cfg.Decision.Threshold)
	assert.Equal(t, "change-only", cfg.Decision.Policy)
	assert.True(t, cfg.Output.Console)
	assert.Equal(t, "gesture/events", cfg.Output.MQTT.Topic)
}

func TestLoad_ExampleFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load(filepath.Join("..", "..", "configs", "gesture.example.yaml"))
	require.NoError(t, err)

	want := New()
	want.Model = ModelConfig{
		Path:       "configs/model.example.json",
		ScalerPath: "configs/scaler.example.json",
	}
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("example config drifted from defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "gesture.yaml", `
serial:
  port: /dev/ttyACM0
  read_timeout: 250ms
  init_commands: ["ODR 67", "FMT CSV"]
pipeline:
  sensor_rate_hz: 100
  window_size: 0
  inference_interval: 200ms
decision:
  threshold: 0.9
  policy: change-or-cooldown
  min_interval: 2s
output:
  console: false
  mqtt:
    broker: tcp://localhost:1883
    qos: 1
http:
  listen: 127.0.0.1:8080
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, []string{"ODR 67", "FMT CSV"}, cfg.Serial.InitCommands)
	assert.Equal(t, 115200, cfg.Serial.BaudRate, "unset keys keep their defaults")
	assert.Equal(t, 75, cfg.WindowSize(), "ceil(100 * 0.75)")
	assert.Equal(t, 200*time.Millisecond, cfg.Pipeline.InferenceInterval)
	assert.Equal(t, 0.9, cfg.Decision.Threshold)
	assert.False(t, cfg.Output.Console)
	assert.Equal(t, "tcp://localhost:1883", cfg.Output.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.Output.MQTT.QoS)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Listen)

	engine, err := cfg.EngineConfig([]string{"idle", "shake"})
	require.NoError(t, err)
	assert.Equal(t, decision.PolicyChangeOrCooldown, engine.Policy)
	assert.Equal(t, 2*time.Second, engine.MinInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "gesture.yml", "decision:\n  threshold: 0.7\n")
	t.Setenv("GESTURE_DECISION__THRESHOLD", "0.95")
	t.Setenv("GESTURE_SERIAL__PORT", "/dev/ttyS3")
	t.Setenv("GESTURE_OUTPUT__MQTT__CLIENT_ID", "bench-1")
	t.Setenv("GESTURE_PIPELINE__POLL_INTERVAL", "5ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.95, cfg.Decision.Threshold)
	assert.Equal(t, "/dev/ttyS3", cfg.Serial.Port)
	assert.Equal(t, "bench-1", cfg.Output.MQTT.ClientID)
	assert.Equal(t, 5*time.Millisecond, cfg.Pipeline.PollInterval)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := writeFile(t, "gesture.yaml", "model:\n  path: models/v2.json\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "models/v2.json", cfg.Model.Path)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{"wrong extension", func(t *testing.T) string { return writeFile(t, "gesture.json", "{}") }, ErrLoadConfig},
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.yaml") }, ErrLoadConfig},
		{"bad yaml", func(t *testing.T) string { return writeFile(t, "bad.yaml", "serial: [unterminated") }, ErrLoadConfig},
		{"too large", func(t *testing.T) string {
			return writeFile(t, "big.yaml", "# "+strings.Repeat("x", maxFileSize)+"\n")
		}, ErrLoadConfig},
		{"invalid value", func(t *testing.T) string { return writeFile(t, "v.yaml", "decision:\n  threshold: 1.5\n") }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no port", func(c *Config) { c.Serial.Port = " " }, "serial.port"},
		{"replay needs no port", func(c *Config) { c.Serial.Port = ""; c.Replay.Path = "rec.csv" }, ""},
		{"parity", func(c *Config) { c.Serial.Parity = "Z" }, "serial:"},
		{"buffer", func(c *Config) { c.Serial.Buffer = 0 }, "serial.buffer"},
		{"features", func(c *Config) { c.Pipeline.Features = 0 }, "pipeline.features"},
		{"derived window needs rate", func(c *Config) { c.Pipeline.WindowSize = 0; c.Pipeline.SensorRateHz = 0 }, "sensor_rate_hz"},
		{"poll", func(c *Config) { c.Pipeline.PollInterval = 0 }, "poll_interval"},
		{"drain", func(c *Config) { c.Pipeline.MaxDrain = 0 }, "max_drain"},
		{"model", func(c *Config) { c.Model.Path = "" }, "model.path"},
		{"threshold", func(c *Config) { c.Decision.Threshold = -0.1 }, "decision.threshold"},
		{"policy", func(c *Config) { c.Decision.Policy = "sometimes" }, "decision.policy"},
		{"cooldown interval", func(c *Config) {
			c.Decision.Policy = "change-or-cooldown"
			c.Decision.MinInterval = 0
		}, "min_interval"},
		{"qos", func(c *Config) { c.Output.MQTT.QoS = 5 }, "qos"},
		{"event store", func(c *Config) { c.Output.StoreEvents = true; c.Recording.DBPath = "" }, "store_events"},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := New()
	cfg.Pipeline.MaxDrain = 0
	cfg.Decision.Threshold = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_drain")
	assert.Contains(t, err.Error(), "threshold")
}

func TestConversions(t *testing.T) {
	cfg := New()
	cfg.Serial.Parity = "even"
	assert.Equal(t, serialmux.PortOptions{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      "even",
		ReadTimeout: 100 * time.Millisecond,
	}, cfg.Serial.PortOptions())

	cfg.Pipeline.InferenceInterval = 150 * time.Millisecond
	assert.Equal(t, acquire.Config{
		InferenceInterval: 150 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		MaxDrain:          512,
	}, cfg.LoopConfig())

	cfg.Pipeline.WindowSize = 0
	cfg.Pipeline.SensorRateHz = 67
	assert.Equal(t, 51, cfg.WindowSize(), "ceil(67 * 0.75) = ceil(50.25)")

	cfg.Decision.Policy = "bogus"
	_, err := cfg.EngineConfig([]string{"a"})
	assert.Error(t, err)
}
