package logger

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := &Logger{
		level:       parseLevel(level),
		out:         log.New(buf, "", 0),
		serviceName: "hub",
	}
	return l, buf
}

func TestLogger_WithFieldsSortedAndTraced(t *testing.T) {
	l, buf := newBufferLogger("debug")
	ctx := context.WithValue(context.Background(), constants.TraceIDKey, "abc123")

	l.WithFields(ctx, Fields{"user_id": "u1", "action": "ws_register"}).Info("registered")

	out := buf.String()
	if !strings.Contains(out, "[INFO] [hub]") {
		t.Errorf("expected level and service prefix, got %q", out)
	}
	if !strings.Contains(out, "[trace_id=abc123 action=ws_register user_id=u1]") {
		t.Errorf("expected trace id followed by sorted fields, got %q", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "registered") {
		t.Errorf("expected message at end, got %q", out)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("warning")

	l.Infof("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}

	l.Warnf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("expected warning to be written, got %q", buf.String())
	}
}

func TestLogger_ShouldLog(t *testing.T) {
	l, _ := newBufferLogger("error")
	if l.ShouldLog(WARNING) {
		t.Error("expected WARNING to be disabled at ERROR level")
	}
	if !l.ShouldLog(CRITICAL) {
		t.Error("expected CRITICAL to be enabled at ERROR level")
	}
}

func TestLogger_ShouldSample(t *testing.T) {
	l, _ := newBufferLogger("debug")
	if !l.ShouldSample(1) {
		t.Error("expected rate 1 to always sample")
	}
	if l.ShouldSample(0) {
		t.Error("expected rate 0 to never sample")
	}

	info, _ := newBufferLogger("info")
	if info.ShouldSample(1) {
		t.Error("expected sampling to be disabled when debug is off")
	}
}

func TestNew_WithoutDirectory(t *testing.T) {
	l, err := New("", "test", "info")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if l.ShouldLog(DEBUG) {
		t.Error("expected debug to be disabled")
	}
}

func TestNew_WithDirectory(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "hub", "debug")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !l.ShouldLog(DEBUG) {
		t.Error("expected debug to be enabled")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":    DEBUG,
		" WARN ":   WARNING,
		"critical": CRITICAL,
		"bogus":    INFO,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
