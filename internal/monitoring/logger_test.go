package monitoring

import (
	"fmt"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestWarnf(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	ResetWarnCount()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Warnf("point_filt_num %d coerced to %d", 0, 1)
	Warnf("second")

	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "WARN ") {
		t.Errorf("expected WARN prefix, got %q", lines[0])
	}
	if !strings.Contains(lines[0], "coerced to 1") {
		t.Errorf("expected formatted message, got %q", lines[0])
	}
	if got := WarnCount(); got != 2 {
		t.Errorf("WarnCount() = %d, want 2", got)
	}
	ResetWarnCount()
	if got := WarnCount(); got != 0 {
		t.Errorf("WarnCount() after reset = %d, want 0", got)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}
