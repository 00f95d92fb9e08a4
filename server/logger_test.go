package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glowlabs-org/demo-master/demo"
)

// TestLogger checks level filtering and that Fatal panics.
func TestLogger(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	path := filepath.Join(dir, "test.log")
	logger, err := NewLogger(WARN, path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("debug message")
	logger.Infof("info %s", "message")
	logger.Warnf("warn %d", 7)
	logger.Error("error ", "message")

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Fatal did not panic")
			}
		}()
		logger.Fatal("fatal message")
	}()
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"WARN", "warn 7", "ERROR", "error message", "FATAL", "fatal message"} {
		if !strings.Contains(out, want) {
			t.Errorf("log is missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"debug message", "info message"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("log contains filtered message %q", unwanted)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	for s, want := range map[string]LogLevel{"debug": DEBUG, "INFO": INFO, "warning": WARN, "error": ERROR, "fatal": FATAL} {
		got, err := ParseLogLevel(s)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
