package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Sentinel error kinds for this package.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

const (
	// EnvPrefix marks environment overrides. A double underscore descends
	// one level: GESTURE_DECISION__THRESHOLD sets decision.threshold.
	EnvPrefix = "GESTURE_"
	// EnvConfigPath names the YAML file when Load is given no path.
	EnvConfigPath = EnvPrefix + "CONFIG"

	maxFileSize = 1 * 1024 * 1024 // 1MB
)

// Load builds a Config by layering, lowest precedence first:
//  1. defaults (New)
//  2. the YAML file at path, or at $GESTURE_CONFIG when path is empty
//  3. GESTURE_* environment variables
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := New()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		cleanPath, err := checkFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
		if err := k.Load(file.Provider(cleanPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, cleanPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrLoadConfig, err)
	}
	// the config path variable is not a config key
	k.Delete("config")

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps GESTURE_OUTPUT__MQTT__BROKER to output.mqtt.broker while
// keeping single underscores that belong to key names.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// checkFile applies the same guards as the model artifact loaders: a YAML
// extension and a size limit.
func checkFile(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml":
	default:
		return "", fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	return cleanPath, nil
}
