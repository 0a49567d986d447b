package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

func ConsoleLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// FileLogger writes JSON lines to path and mirrors them to stdout. The caller owns
// the returned file and closes it on shutdown.
func FileLogger(level logrus.Level, path string) (*os.File, *logrus.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return f, logger, nil
}

// Nop returns an entry that discards everything below panic.
func Nop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
