package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// newLogger creates a command logger. Verbose forces DebugLevel; otherwise
// the level comes from the LOG_LEVEL environment variable, defaulting to info.
func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()

	if verbose {
		log.SetLevel(logrus.DebugLevel)
		return log
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Printf("Invalid LOG_LEVEL '%s', defaulting to 'info'\n", logLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}
