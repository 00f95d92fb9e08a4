package server

// This file implements a logging utility for the master server. The level
// based API is a thin layer over zap.

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the level of logging.
type LogLevel int

// Constants for different log levels.
const (
	DEBUG LogLevel = iota // Debug level (0)
	INFO                  // Information level (1)
	WARN                  // Warning level (2)
	ERROR                 // Error level (3)
	FATAL                 // Fatal error level (4)
)

// ParseLogLevel converts a level name such as "warn" into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return 0, errors.Errorf("unknown log level %q", s)
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

// Logger holds the configuration for a logger.
type Logger struct {
	zl   *zap.Logger
	file *os.File // nil when logging to stderr
}

// NewLogger initializes a new logger.
// logLevel: Level of log messages to display.
// logFile: File name to which logs will be written, "-" for stderr.
// Returns a pointer to a Logger or an error if any.
func NewLogger(logLevel LogLevel, logFile string) (*Logger, error) {
	l := &Logger{}
	var ws zapcore.WriteSyncer
	if logFile == "-" {
		ws = zapcore.Lock(os.Stderr)
	} else {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, errors.Wrap(err, "unable to open log file")
		}
		l.file = file
		ws = zapcore.Lock(file)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, logLevel.zapLevel())

	// Fatal panics instead of exiting so that deferred cleanup and the
	// threadgroup still get a chance to run.
	l.zl = zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic))
	return l, nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Internal logging function.
func (l *Logger) log(level LogLevel, msg string) {
	if ce := l.zl.Check(level.zapLevel(), msg); ce != nil {
		ce.Write()
	}
}

// Debug logs debug messages using string concatenation.
func (l *Logger) Debug(args ...interface{}) {
	l.log(DEBUG, fmt.Sprint(args...))
}

// Debugf logs debug messages using format directives.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

// Info logs informational messages using string concatenation.
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, fmt.Sprint(args...))
}

// Infof logs informational messages using format directives.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warn logs warning messages using string concatenation.
func (l *Logger) Warn(args ...interface{}) {
	l.log(WARN, fmt.Sprint(args...))
}

// Warnf logs warning messages using format directives.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Error logs error messages using string concatenation.
func (l *Logger) Error(args ...interface{}) {
	l.log(ERROR, fmt.Sprint(args...))
}

// Errorf logs error messages using format directives.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}

// Fatal logs fatal messages using string concatenation and then panics.
func (l *Logger) Fatal(args ...interface{}) {
	l.log(FATAL, fmt.Sprint(args...))
}

// Fatalf logs fatal messages using format directives and then panics.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...))
}
