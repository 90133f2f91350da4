// Package logging configures the logrus logger used by the
// cmd/blockcryptctl entrypoint.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger configured from level and format ("json"
// or "text").
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// WithTarget returns a logger entry pre-populated with the target name,
// the label every mapper/target log line carries so multi-target
// deployments can be filtered in aggregate log storage.
func WithTarget(log *logrus.Logger, target string) *logrus.Entry {
	return log.WithField("target", target)
}
