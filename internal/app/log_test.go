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
	ts := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "info",
			opID:    "20260302T091500Z",
			level:   slog.LevelInfo,
			message: "apply finished",
			want:    "2026-03-02T09:15:00Z\tINFO\t20260302T091500Z\tapply finished\n",
		},
		{
			name:    "warn",
			opID:    "op",
			level:   slog.LevelWarn,
			message: "permission denied, using fallback",
			want:    "2026-03-02T09:15:00Z\tWARN\top\tpermission denied, using fallback\n",
		},
		{
			name:    "record attrs",
			opID:    "op",
			level:   slog.LevelInfo,
			message: "applying changes",
			attrs:   []slog.Attr{slog.String("database", "Sales"), slog.Int("changes", 3)},
			want:    "2026-03-02T09:15:00Z\tINFO\top\tapplying changes\tdatabase=Sales\tchanges=3\n",
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
	h := &logHandler{w: &buf, opID: "op", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("database", "Sales")}).(*logHandler)
	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "loaded", 0)
	r.AddAttrs(slog.String("file", "Sales_log"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	for _, want := range []string{"\ta=1", "\tdatabase=Sales", "\tfile=Sales_log"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestLogHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Leveler
		check slog.Level
		want  bool
	}{
		{name: "no level logs everything", check: slog.LevelDebug, want: true},
		{name: "below threshold", level: slog.LevelInfo, check: slog.LevelDebug, want: false},
		{name: "at threshold", level: slog.LevelInfo, check: slog.LevelInfo, want: true},
		{name: "above threshold", level: slog.LevelInfo, check: slog.LevelError, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &logHandler{level: tt.level}
			if got := h.Enabled(context.Background(), tt.check); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("visible", "database", "Sales")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "dbcfg.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	got := string(data)
	if strings.Contains(got, "hidden") {
		t.Errorf("debug record written at info level: %q", got)
	}
	if !strings.Contains(got, "\ttest-op\tvisible\tdatabase=Sales\n") {
		t.Errorf("log = %q, want info record", got)
	}
}
