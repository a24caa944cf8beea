package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

// ConfigureLogging sets up logrus for long-running commands: full timestamps on stdout.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ConfigureCliLogging sets up logrus for short-lived commands where only the message matters.
func ConfigureCliLogging() {
	log.SetFormatter(new(CommandLineFormatter))
	log.SetOutput(os.Stdout)
}

// SetLevel parses level (e.g. "info", "DEBUG") and applies it to the standard logger.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.WithStack(err)
	}
	log.SetLevel(parsed)
	return nil
}

// AddPrometheusHook counts log lines per level in the default prometheus registry.
// Must be called at most once per process.
func AddPrometheusHook() {
	log.AddHook(promrus.MustNewPrometheusHook())
}
