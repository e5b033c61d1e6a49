// Package logger provides leveled structured logging.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger *logrus.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	InitWithOutput(level, format, os.Stderr)
}

// InitWithOutput is Init writing to w instead of stderr.
func InitWithOutput(level string, format string, w io.Writer) {
	var l Level
	var ll logrus.Level
	switch strings.ToLower(level) {
	case "debug":
		l, ll = DebugLevel, logrus.DebugLevel
	case "info":
		l, ll = InfoLevel, logrus.InfoLevel
	case "warn":
		l, ll = WarnLevel, logrus.WarnLevel
	case "error":
		l, ll = ErrorLevel, logrus.ErrorLevel
	default:
		l, ll = InfoLevel, logrus.InfoLevel
	}

	lg := logrus.New()
	lg.SetOutput(w)
	lg.SetLevel(ll)
	if strings.ToLower(format) == "text" {
		lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	} else {
		lg.SetFormatter(&logrus.JSONFormatter{})
	}

	defaultLogger = &Logger{
		level:  l,
		logger: lg,
	}
}

// With returns an entry carrying structured fields, or nil when logging is not initialized.
func With(fields map[string]interface{}) *logrus.Entry {
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.logger.WithFields(fields)
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= DebugLevel {
		defaultLogger.logger.Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= InfoLevel {
		defaultLogger.logger.Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= WarnLevel {
		defaultLogger.logger.Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= ErrorLevel {
		defaultLogger.logger.Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logger.Errorf("[FATAL] "+format, args...)
	}
	os.Exit(1)
}
