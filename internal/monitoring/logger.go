package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFunc is the printf-style signature shared by all package loggers.
type LogFunc func(format string, v ...interface{})

// Package-level diagnostic loggers. They default to a zap console logger
// at info level and may be replaced by Init or SetLogger. Tests or
// production code can redirect or mute them.
var (
	Logf   LogFunc
	Debugf LogFunc
	Warnf  LogFunc
	Errorf LogFunc

	sugar *zap.SugaredLogger
)

// LoggingConfig controls log level and optional rotated file output.
type LoggingConfig struct {
	Level      string `koanf:"level"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

func init() {
	use(newLogger(zapcore.AddSync(os.Stderr), zapcore.InfoLevel))
}

// Init rebuilds the package loggers from cfg. With a Path set, output goes
// to a lumberjack-rotated file instead of stderr.
func Init(cfg LoggingConfig) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	ws := zapcore.AddSync(os.Stderr)
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	use(newLogger(ws, level))
	sugar.Debugf("logging initialised (level=%s path=%q)", level, cfg.Path)
	return nil
}

// ParseLevel maps a config string onto a zap level; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.Level) *zap.SugaredLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), ws, level)
	return zap.New(core, zap.AddCaller()).Sugar()
}

func use(l *zap.SugaredLogger) {
	sugar = l
	Logf = l.Infof
	Debugf = l.Debugf
	Warnf = l.Warnf
	Errorf = l.Errorf
}

// Logger returns the underlying zap logger.
func Logger() *zap.SugaredLogger { return sugar }

// SetLogger routes every level through f. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
	Debugf = f
	Warnf = f
	Errorf = f
}

// Sync flushes any buffered log entries.
func Sync() error {
	if sugar == nil {
		return nil
	}
	return sugar.Sync()
}
