package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the structured logger handed to every component.
//
// Loggers should be injected and usually Named: lggr.Named("persistence").
// Tests should use Test or TestObserved, New is for the running server.
type Logger interface {
	Name() string
	Named(name string) Logger
	With(keysAndValues ...any) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(format string, values ...any)
	Infof(format string, values ...any)
	Warnf(format string, values ...any)
	Errorf(format string, values ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)

	// Sync flushes buffered entries.
	Sync() error
}

type Config struct {
	Level       zapcore.Level
	Development bool
}

// New returns a production logger at the given level, or a console
// logger in development.
func New(cfg Config) (Logger, error) {
	return NewWith(func(zc *zap.Config) { *zc = zapConfig(cfg) })
}

func zapConfig(cfg Config) zap.Config {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	return zc
}

// NewWith builds a Logger from a modified zap production config.
func NewWith(cfgFn func(*zap.Config)) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfgFn(&cfg)
	core, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &logger{core.Sugar()}, nil
}

// ParseLevel maps "debug", "info", ... to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Test returns a logger writing to tb.
func Test(tb testing.TB) Logger {
	tb.Helper()
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	lggr := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zaptest.NewTestingWriter(tb),
		zapcore.DebugLevel,
	))
	return &logger{lggr.Sugar()}
}

// TestObserved returns a test logger and the entries it records at lvl and above.
func TestObserved(tb testing.TB, lvl zapcore.Level) (Logger, *observer.ObservedLogs) {
	tb.Helper()
	oCore, logs := observer.New(lvl)
	observe := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, oCore)
	})
	return &logger{zaptest.NewLogger(tb, zaptest.WrapOptions(observe, zap.AddCaller())).Sugar()}, logs
}

// Nop discards everything.
func Nop() Logger { return &logger{zap.NewNop().Sugar()} }

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Name() string { return l.Desugar().Name() }

func (l *logger) Named(name string) Logger { return &logger{l.SugaredLogger.Named(name)} }

func (l *logger) With(keysAndValues ...any) Logger {
	return &logger{l.SugaredLogger.With(keysAndValues...)}
}
