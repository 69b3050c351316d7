package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "20240615T143045Z",
			level:   slog.LevelInfo,
			message: "release checked",
			want:    "2024-06-15T14:30:45Z\tINFO\t20240615T143045Z\trelease checked\n",
		},
		{
			name:    "warning",
			opID:    "op-456",
			level:   slog.LevelWarn,
			message: "backup item incomplete",
			want:    "2024-06-15T14:30:45Z\tWARN\top-456\tbackup item incomplete\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "artifact downloaded",
			attrs:   []slog.Attr{slog.String("tag", "v1.3.0"), slog.Int64("bytes", 4096)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tartifact downloaded\ttag=v1.3.0\tbytes=4096\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &logHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLogHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &logHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "server")}).(*logHandler)
	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "request", 0)
	r.AddAttrs(slog.String("path", "/update"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"a=1", "component=server", "path=/update"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestLogHandler_Enabled(t *testing.T) {
	all := &logHandler{}
	if !all.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("nil level should enable debug")
	}

	info := &logHandler{level: slog.LevelInfo}
	if info.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled at info level")
	}
	if !info.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled at info level")
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op", slog.LevelDebug)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("hello", "k", "v")
	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "test-op\thello\tk=v") {
		t.Errorf("log file = %q", data)
	}
}
