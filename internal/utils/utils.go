package utils

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

// ParseLogLevel maps the --loglevel names onto logrus levels.
func ParseLogLevel(level string) (logrus.Level, error) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel, nil
	case "info", "":
		return log.InfoLevel, nil
	case "warning", "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	}
	return log.InfoLevel, fmt.Errorf("bad log level %q", level)
}

func SetLogLevel(level string) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		log.Fatal("Bad error level string")
	}
	Log.SetLevel(lvl)
}

// SetLogFormat switches the process logger between text and JSON output.
func SetLogFormat(format string) {
	if strings.EqualFold(format, "json") {
		Log.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
