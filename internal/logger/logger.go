package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

type sink struct {
	level   Level
	logger  *log.Logger
	enabled bool
	closer  io.Closer
}

var (
	mu     sync.RWMutex
	global *sink
)

// Options mirrors the logging section of the configuration.
type Options struct {
	Enabled bool
	Level   string
	File    string
	Console bool
}

// Init initializes the process-wide sink.
func Init(opts Options) error {
	if !opts.Enabled {
		swap(&sink{enabled: false})
		return nil
	}

	var writers []io.Writer
	var closer io.Closer
	if opts.File != "" {
		dir := filepath.Dir(opts.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	swap(&sink{
		level:   ParseLevel(opts.Level),
		logger:  log.New(io.MultiWriter(writers...), "", 0),
		enabled: true,
		closer:  closer,
	})
	return nil
}

// SetOutput routes all logging to w at the given level. Used by tests and tools.
func SetOutput(w io.Writer, level Level) {
	swap(&sink{level: level, logger: log.New(w, "", 0), enabled: true})
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if global == nil || global.closer == nil {
		return nil
	}
	err := global.closer.Close()
	global.closer = nil
	return err
}

func swap(s *sink) {
	mu.Lock()
	prev := global
	global = s
	mu.Unlock()
	if prev != nil && prev.closer != nil {
		prev.closer.Close()
	}
}

// ParseLevel maps a config string to a Level; unknown values mean Info.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func emit(level Level, component, format string, args ...interface{}) {
	mu.RLock()
	s := global
	mu.RUnlock()
	if s == nil || !s.enabled || s.level > level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	if component != "" {
		s.logger.Printf("[%s] [%s] [%s] %s", ts, level, component, msg)
		return
	}
	s.logger.Printf("[%s] [%s] %s", ts, level, msg)
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) { emit(Debug, "", format, args...) }

// Infof logs an info message.
func Infof(format string, args ...interface{}) { emit(Info, "", format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { emit(Warn, "", format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { emit(Error, "", format, args...) }

// Logger writes through the global sink with a component prefix.
type Logger struct {
	component string
}

// Named returns a logger whose lines carry [name].
func Named(name string) *Logger {
	return &Logger{component: name}
}

// With returns a child logger, e.g. Named("resolver").With("req=abc").
func (l *Logger) With(suffix string) *Logger {
	if l == nil {
		return Named(suffix)
	}
	return &Logger{component: l.component + " " + suffix}
}

func (l *Logger) name() string {
	if l == nil {
		return ""
	}
	return l.component
}

func (l *Logger) Debugf(format string, args ...interface{}) { emit(Debug, l.name(), format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { emit(Info, l.name(), format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { emit(Warn, l.name(), format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { emit(Error, l.name(), format, args...) }
