package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"ble-bridge.klederson.com/internal/config"
)

// New builds a logger writing to stderr so stdout stays free for data lines.
func New(cfg config.LoggerConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput builds a logger writing to w.
func NewWithOutput(cfg config.LoggerConfig, w io.Writer) *logrus.Logger {
	l := &logrus.Logger{
		Out:       w,
		Hooks:     make(logrus.LevelHooks),
		Level:     parseLevel(cfg.Level),
		Formatter: &logrus.TextFormatter{FullTimestamp: true},
	}
	if strings.EqualFold(cfg.Format, "json") {
		l.Formatter = &logrus.JSONFormatter{}
	}
	return l
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func parseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
