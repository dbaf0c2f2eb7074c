package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func restore() func() {
	l, d, w, e, s := Logf, Debugf, Warnf, Errorf, sugar
	return func() { Logf, Debugf, Warnf, Errorf, sugar = l, d, w, e, s }
}

func TestSetLogger(t *testing.T) {
	defer restore()()

	called := 0
	SetLogger(func(format string, v ...interface{}) { called++ })
	Logf("info")
	Debugf("debug")
	Warnf("warn")
	Errorf("error")
	if called != 4 {
		t.Errorf("custom logger called %d times, want 4", called)
	}

	// nil installs a no-op logger that must not panic
	SetLogger(nil)
	Logf("test message")
	Debugf("test message")
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil || Debugf == nil || Warnf == nil || Errorf == nil {
		t.Fatal("package loggers should not be nil by default")
	}
	if Logger() == nil {
		t.Fatal("zap logger should be initialised")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestInit_FileOutput(t *testing.T) {
	defer restore()()

	path := filepath.Join(t.TempDir(), "logs", "gesture.log")
	if err := Init(LoggingConfig{Level: "info", Path: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Logf("hello %s", "file")
	Debugf("suppressed at info level")
	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "hello file") {
		t.Errorf("log file missing info line: %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Errorf("debug line written at info level: %q", out)
	}
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	defer restore()()
	if err := Init(LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error")
	}
}
