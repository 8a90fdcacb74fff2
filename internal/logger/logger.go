package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// SetDebug toggles debug output at runtime (the DEBUG env var sets the initial state).
func SetDebug(on bool) {
	if on {
		log.SetLevel(logrus.DebugLevel)
		return
	}
	log.SetLevel(logrus.InfoLevel)
}

func DebugLog(format string, args ...any) {
	log.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}

func Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

func Logger() *logrus.Logger {
	return log
}
