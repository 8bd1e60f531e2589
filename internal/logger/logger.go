package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// New builds the application logger. LOG_LEVEL wins over the environment
// default when it parses; "json" format is used for anything shipped to a collector.
func New(env, level, format string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}

	log := logrus.New()
	log.SetOutput(out)

	switch env {
	case envLocal:
		log.SetLevel(logrus.DebugLevel)
	case envDev:
		log.SetLevel(logrus.InfoLevel)
	case envProd:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	if lvl, err := logrus.ParseLevel(level); err == nil && len(level) > 0 {
		log.SetLevel(lvl)
	}

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			DisableColors: env != envLocal,
			FullTimestamp: true,
		})
	}

	return log
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
