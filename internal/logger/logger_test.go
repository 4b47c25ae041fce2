package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warning ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandlerFormatsAttrsAndFiltersLevel(t *testing.T) {
	SetLevel("info")
	defer SetLevel("debug")

	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).With("operator", "op-1")

	log.Debug("hidden")
	log.Info("[Session] Status changed", "status", "connected")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	if !strings.Contains(out, "[INFO] [Session] Status changed operator=op-1 status=connected") {
		t.Errorf("unexpected line: %q", out)
	}
}

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := SIPWriter(&buf)

	in := []byte(`{"level":"warn","message":"transaction timeout","time":"2026-01-02T03:04:05Z","call_id":"abc"}`)
	n, err := w.Write(in)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(in) {
		t.Errorf("Write() n = %d, want %d", n, len(in))
	}
	if got := buf.String(); got != "[03:04:05] [WARN] transaction timeout call_id=abc\n" {
		t.Errorf("reformatted = %q", got)
	}

	buf.Reset()
	if _, err := w.Write([]byte("plain line\n")); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "plain line\n" {
		t.Errorf("passthrough = %q", got)
	}
}
