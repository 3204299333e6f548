package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"WARNING", false},
		{"error", false},
		{"", false},
		{"bad", true},
	}
	for _, c := range cases {
		_, err := ParseLevel(c.in)
		if c.wantErr && err == nil {
			t.Fatalf("expected error for %q", c.in)
		}
		if !c.wantErr && err != nil {
			t.Fatalf("unexpected error for %q: %v", c.in, err)
		}
	}
}

func TestConfigurePrecedence(t *testing.T) {
	t.Setenv(EnvLevel, "warn")
	if err := Configure("", false); err != nil {
		t.Fatalf("configure env: %v", err)
	}
	if IsDebug() {
		t.Fatalf("expected non-debug from env warn")
	}

	if err := Configure("", true); err != nil {
		t.Fatalf("configure verbose: %v", err)
	}
	if !IsDebug() {
		t.Fatalf("expected debug from verbose")
	}

	if err := Configure("error", true); err != nil {
		t.Fatalf("configure explicit: %v", err)
	}
	if IsDebug() {
		t.Fatalf("expected non-debug from explicit error")
	}

	t.Setenv(EnvLevel, "loud")
	if err := Configure("", false); err == nil {
		t.Fatalf("expected error for invalid env level")
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	if err := SetLevel("info"); err != nil {
		t.Fatalf("set level: %v", err)
	}

	l := For("integrity.remote")
	l.Debugf("hidden %d", 1)
	l.Warnf("session %s rejected", "s1")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug line emitted at info level: %q", got)
	}
	if !strings.Contains(got, "[WARN] integrity.remote: session s1 rejected") {
		t.Fatalf("unexpected log output: %q", got)
	}
}
