package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "monitor"))
	log.Info("execution completed", Int64("sub", 7), Duration("took", 1500*time.Millisecond), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["comp"] != "monitor" || m["message"] != "execution completed" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["sub"] != float64(7) {
		t.Fatalf("sub = %v", m["sub"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled")
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn not written: %s", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","message":"subscription paused","time":"x","sub":3,"err":"timeout"}`)
	got := formatTelegramJSON(line)
	want := "[WARN] subscription paused\n- err=timeout\n- sub=3"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
