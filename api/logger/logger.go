package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a named, leveled logger. Every package gets its own scope
// ("appcore.reconciler", "appcore.cron", ...) so output can be filtered.
type Logger interface {
	WithFields(fields map[string]any) Logger
	SetLevel(level string)
	SetOutput(w io.Writer)
	EnableJSON(enabled bool)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

type Config struct {
	Level string
	JSON  bool
}

func DefaultConfig() Config {
	return Config{Level: "info"}
}

var (
	mu      sync.RWMutex
	loggers = map[string]*scoped{}
	current = DefaultConfig()
)

// NewLogger returns the logger registered under name, creating it on first use.
func NewLogger(name string) Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}
	l := newScoped(name)
	l.SetLevel(current.Level)
	l.EnableJSON(current.JSON)
	loggers[name] = l
	return l
}

// Apply sets level and format on every registered logger and on loggers
// created afterwards.
func Apply(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	for _, l := range loggers {
		l.SetLevel(cfg.Level)
		l.EnableJSON(cfg.JSON)
	}
}

type scoped struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

func newScoped(name string) *scoped {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &scoped{
		base:  base,
		entry: base.WithField("scope", name),
	}
}

func (s *scoped) WithFields(fields map[string]any) Logger {
	return &scoped{base: s.base, entry: s.entry.WithFields(logrus.Fields(fields))}
}

func (s *scoped) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	s.base.SetLevel(lvl)
}

func (s *scoped) SetOutput(w io.Writer) {
	s.base.SetOutput(w)
}

func (s *scoped) EnableJSON(enabled bool) {
	if enabled {
		s.base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	s.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func (s *scoped) Debugf(format string, args ...any) { s.entry.Debugf(format, args...) }
func (s *scoped) Infof(format string, args ...any)  { s.entry.Infof(format, args...) }
func (s *scoped) Warnf(format string, args ...any)  { s.entry.Warnf(format, args...) }
func (s *scoped) Errorf(format string, args ...any) { s.entry.Errorf(format, args...) }
func (s *scoped) Fatalf(format string, args ...any) { s.entry.Fatalf(format, args...) }
