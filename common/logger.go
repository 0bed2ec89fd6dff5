package common

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	confLoggerLevel  = "relay.log.level"
	confLoggerFormat = "relay.log.json"
)

const (
	defaultLoggerLevel  = Info
	defaultLoggerFormat = false
)

type Logger interface {
	Fmt(string, ...interface{}) Logger
	Debug(string, ...interface{})
	Info(string, ...interface{})
	Error(string, ...interface{})
}

type LoggerLevel int

const (
	Error LoggerLevel = iota
	Info
	Debug
)

func (l LoggerLevel) logrus() logrus.Level {
	switch l {
	default:
		return logrus.DebugLevel
	case Error:
		return logrus.ErrorLevel
	case Info:
		return logrus.InfoLevel
	}
}

type standardLogger struct {
	raw   *logrus.Logger
	scope string
}

func NewStandardLogger(c Config) Logger {
	raw := logrus.New()
	raw.SetOutput(os.Stderr)
	raw.SetLevel(LoggerLevel(c.OptionalInt(confLoggerLevel, int(defaultLoggerLevel))).logrus())
	if c.OptionalBool(confLoggerFormat, defaultLoggerFormat) {
		raw.SetFormatter(&logrus.JSONFormatter{})
	}
	return &standardLogger{raw: raw}
}

func (s *standardLogger) entry() *logrus.Entry {
	if s.scope == "" {
		return logrus.NewEntry(s.raw)
	}
	return s.raw.WithField("scope", s.scope)
}

func (s *standardLogger) Fmt(format string, vals ...interface{}) Logger {
	scope := fmt.Sprintf(format, vals...)
	if scope == "" {
		return s
	}
	if s.scope != "" {
		scope = fmt.Sprintf("%v/%v", s.scope, scope)
	}
	return &standardLogger{raw: s.raw, scope: scope}
}

func (s *standardLogger) Debug(format string, vals ...interface{}) {
	s.entry().Debugf(format, vals...)
}

func (s *standardLogger) Info(format string, vals ...interface{}) {
	s.entry().Infof(format, vals...)
}

func (s *standardLogger) Error(format string, vals ...interface{}) {
	s.entry().Errorf(format, vals...)
}
