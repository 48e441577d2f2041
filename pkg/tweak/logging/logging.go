// Package logging provides structured logging for tweakctl with
// per-component log levels. The CLI and any embedding GUI share it.
//
// Basic usage:
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Close()
//
//	logger := logging.Get("engine")
//	logger.Info("apply started", "knob", "cpu-governor")
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level string into a charmbracelet/log level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel, nil
	case "info", "":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath(). "-" logs
	// to stderr only.
	Path string

	// Components maps component names to level overrides.
	Components map[string]string

	// Console mirrors all log output to stderr in addition to the log
	// file. Per-component levels still apply before anything is written.
	Console bool
}

// DefaultLogPath returns $XDG_STATE_HOME/tweakctl/tweakctl.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "tweakctl", "tweakctl.log")
}

var (
	mu         sync.Mutex
	root       *log.Logger
	file       *os.File
	levels     map[string]log.Level
	components = map[string]*log.Logger{}
)

// Init initializes the logging system. It must be called before Get;
// otherwise Get falls back to a stderr logger at info level.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var w io.Writer
	switch cfg.Path {
	case "-":
		w = os.Stderr
	default:
		path := cfg.Path
		if path == "" {
			path = DefaultLogPath()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		file = f
		w = f
		if cfg.Console {
			w = io.MultiWriter(f, os.Stderr)
		}
	}

	levels = make(map[string]log.Level, len(cfg.Components))
	for name, s := range cfg.Components {
		l, err := ParseLevel(s)
		if err != nil {
			return fmt.Errorf("component %q: %w", name, err)
		}
		levels[name] = l
	}

	root = log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	components = map[string]*log.Logger{}
	return nil
}

// Get returns a named component logger. Component loggers are cached; the
// same name always returns the same instance.
func Get(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := components[component]; ok {
		return logger
	}

	base := root
	if base == nil {
		base = log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})
	}

	logger := base.WithPrefix(component)
	if level, ok := levels[component]; ok {
		logger.SetLevel(level)
	}
	components[component] = logger
	return logger
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
