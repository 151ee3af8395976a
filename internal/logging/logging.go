package logging

import (
	"io"
	"os"

	"emperror.dev/errors"
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/pollbox/config"
)

// Setup configures the standard logrus logger. Every package logs through
// an entry derived from it, so this must run before anything else logs.
func Setup(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return errors.WrapIf(err, "invalid log level")
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	logrus.SetOutput(out)

	return nil
}

// For returns the logger of a component.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
