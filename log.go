package main

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger keeps the Debugf/Infof/Warnf/Errorf surface used across the
// service; zap does the formatting and level gating.
type Logger struct {
	level LogLevel
	z     *zap.SugaredLogger
}

func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func NewLogger(level string) *Logger {
	lv := ParseLogLevel(level)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = nil

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zapLevel(lv),
	)
	return &Logger{level: lv, z: zap.New(core).Sugar()}
}

// NewNopLogger is used by tests and by commands that print their own output.
func NewNopLogger() *Logger {
	return &Logger{level: LevelError, z: zap.NewNop().Sugar()}
}

func zapLevel(lv LogLevel) zapcore.Level {
	switch lv {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) Level() LogLevel { return l.level }

func (l *Logger) Debugf(format string, args ...any) { l.z.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.z.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.z.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.z.Errorf(format, args...) }

// Printf lets the logger stand in for cron's and gin's printf-style loggers.
func (l *Logger) Printf(format string, args ...any) { l.z.Infof(format, args...) }

func (l *Logger) Sync() { _ = l.z.Sync() }
