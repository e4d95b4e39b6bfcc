package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"debug level text", &Config{Level: "debug", Format: "text"}},
		{"info level json", &Config{Level: "info", Format: "json"}},
		{"warn level text", &Config{Level: "warn", Format: "text"}},
		{"default level", &Config{Level: "invalid", Format: "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closer, err := Init(tt.config)
			if err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			defer closer.Close()
			slog.Info("test message")
		})
	}
}

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	closer, err := Init(&Config{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("written to file", "key", "value")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to file"`) {
		t.Errorf("Expected JSON record in log file, got %q", data)
	}
}

func TestInitWithUnwritableFile(t *testing.T) {
	_, err := Init(&Config{File: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if err == nil {
		t.Error("Expected error for unwritable log file")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithContextAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(NewHandler(&buf, &Config{Level: "debug"})))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	ctx = WithTaskID(ctx, "task-456")

	Info(ctx, "info message", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "request_id=req-123") {
		t.Errorf("Expected request id in log, got %q", out)
	}
	if !strings.Contains(out, "task_id=task-456") {
		t.Errorf("Expected task id in log, got %q", out)
	}
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(NewHandler(&buf, &Config{Level: "debug"})))

	ctx := context.Background()

	Debug(ctx, "debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("Expected debug message in log")
	}

	buf.Reset()
	Warn(ctx, "warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("Expected warn message in log")
	}

	buf.Reset()
	Error(ctx, "error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("Expected error message in log")
	}
}
