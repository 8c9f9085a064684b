// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init sets the level and format of the standard logrus logger. Format is
// "text" (default) or "json".
func Init(level, format string) error {
	return Configure(logrus.StandardLogger(), os.Stderr, level, format)
}

func Configure(l *logrus.Logger, out io.Writer, level, format string) error {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q: want text or json", format)
	}
	l.SetLevel(lvl)
	l.SetOutput(out)
	return nil
}
