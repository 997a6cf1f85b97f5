package config

import (
	"os"

	"github.com/sirupsen/logrus"
	"perun.network/go-perun/log"
	plogrus "perun.network/go-perun/log/logrus"
)

// SetupLogging installs a logrus logger with the given level as the global
// logger.
func SetupLogging(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	log.Set(plogrus.FromLogrus(logger))
	return logger
}
