// High level log wrapper, so it can output different log based on level.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - call log.SetLevel() or log.SetLevelByString()
// - set environment variable `LOG_LEVEL`
//
// The wrapper sits on a zap logger. Components which want structured fields
// take the logger from L() instead of using the printf helpers.

package log

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel = zapcore.Level

const (
	LOG_LEVEL_FATAL = zapcore.FatalLevel
	LOG_LEVEL_ERROR = zapcore.ErrorLevel
	LOG_LEVEL_WARN  = zapcore.WarnLevel
	LOG_LEVEL_INFO  = zapcore.InfoLevel
	LOG_LEVEL_DEBUG = zapcore.DebugLevel
	LOG_LEVEL_ALL   = LOG_LEVEL_DEBUG
)

// Logger pairs a zap logger with the level that gates it.
type Logger struct {
	level  zap.AtomicLevel
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

var _log = New()

// L returns the global zap logger.
func L() *zap.Logger {
	return _log.logger
}

// Init replaces the global logger with one writing at level to file. An empty
// file means stderr; a file path is rotated by lumberjack.
func Init(level string, file string) {
	var ws zapcore.WriteSyncer
	if file == "" {
		ws = zapcore.Lock(os.Stderr)
	} else {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    300, // MB
			MaxBackups: 7,
			MaxAge:     28, // days
			LocalTime:  true,
		})
	}
	_log = NewLogger(ws, StringToLogLevel(level))
}

func SetLevel(level LogLevel) {
	_log.SetLevel(level)
}

func GetLogLevel() LogLevel {
	return _log.level.Level()
}

func SetLevelByString(level string) {
	_log.SetLevelByString(level)
}

func Info(v ...interface{}) {
	_log.sugar.Info(v...)
}

func Infof(format string, v ...interface{}) {
	_log.sugar.Infof(format, v...)
}

func Panic(v ...interface{}) {
	_log.sugar.Panic(v...)
}

func Panicf(format string, v ...interface{}) {
	_log.sugar.Panicf(format, v...)
}

func Debug(v ...interface{}) {
	_log.sugar.Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	_log.sugar.Debugf(format, v...)
}

func Warn(v ...interface{}) {
	_log.sugar.Warn(v...)
}

func Warnf(format string, v ...interface{}) {
	_log.sugar.Warnf(format, v...)
}

func Warning(v ...interface{}) {
	_log.sugar.Warn(v...)
}

func Warningf(format string, v ...interface{}) {
	_log.sugar.Warnf(format, v...)
}

func Error(v ...interface{}) {
	_log.sugar.Error(v...)
}

func Errorf(format string, v ...interface{}) {
	_log.sugar.Errorf(format, v...)
}

func Fatal(v ...interface{}) {
	_log.sugar.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	_log.sugar.Fatalf(format, v...)
}

func Sync() error {
	return _log.logger.Sync()
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level)
}

func (l *Logger) SetLevelByString(level string) {
	l.level.SetLevel(StringToLogLevel(level))
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.logger
}

func StringToLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "fatal":
		return LOG_LEVEL_FATAL
	case "error":
		return LOG_LEVEL_ERROR
	case "warn", "warning":
		return LOG_LEVEL_WARN
	case "debug":
		return LOG_LEVEL_DEBUG
	case "info":
		return LOG_LEVEL_INFO
	}
	return LOG_LEVEL_ALL
}

func New() *Logger {
	level := LOG_LEVEL_INFO
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		level = StringToLogLevel(l)
	}
	return NewLogger(zapcore.Lock(os.Stderr), level)
}

func NewLogger(ws zapcore.WriteSyncer, level LogLevel) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), ws, atom)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{
		level:  atom,
		logger: logger.WithOptions(zap.AddCallerSkip(-1)),
		sugar:  logger.Sugar(),
	}
}
