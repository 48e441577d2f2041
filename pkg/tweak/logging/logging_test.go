package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want log.Level
		ok   bool
	}{
		{"debug", log.DebugLevel, true},
		{"info", log.InfoLevel, true},
		{"", log.InfoLevel, true},
		{"warn", log.WarnLevel, true},
		{"warning", log.WarnLevel, true},
		{"ERROR", log.ErrorLevel, true},
		{"verbose", log.InfoLevel, false},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tc.in, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("ParseLevel(%q) error = nil, want error", tc.in)
			}
			if !errors.Is(err, ErrInvalidLevel) {
				t.Errorf("ParseLevel(%q) error = %v, want ErrInvalidLevel", tc.in, err)
			}
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestInitAndGet(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	err := Init(Config{
		Level: "debug",
		Path:  logPath,
		Components: map[string]string{
			"engine": "warn",
		},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	engine := Get("engine")
	if engine == nil {
		t.Fatal("Get() returned nil")
	}
	if again := Get("engine"); again != engine {
		t.Error("Get() returned a different instance for the same component")
	}
	if engine.GetLevel() != log.WarnLevel {
		t.Errorf("component level = %v, want warn", engine.GetLevel())
	}

	Get("txn").Info("something happened", "key", "value")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "something happened") {
		t.Errorf("log file missing entry, got %q", string(data))
	}
}

func TestConsoleStillWritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	if err := Init(Config{Level: "info", Path: logPath, Console: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Get("engine").Info("mirrored entry")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "mirrored entry") {
		t.Errorf("log file missing mirrored entry, got %q", string(data))
	}
}

func TestInitRejectsInvalidLevels(t *testing.T) {
	if err := Init(Config{Level: "chatty", Path: "-"}); err == nil {
		t.Fatal("Init() error = nil, want error for invalid level")
	}
	if err := Init(Config{Level: "info", Path: "-", Components: map[string]string{"x": "loud"}}); err == nil {
		t.Fatal("Init() error = nil, want error for invalid component level")
	}
}

func TestGetBeforeInit(t *testing.T) {
	// A fallback logger keeps early callers working.
	logger := Get("early-component")
	if logger == nil {
		t.Fatal("Get() returned nil before Init")
	}
}
