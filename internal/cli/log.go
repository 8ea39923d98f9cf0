// Package cli holds what the vox commands share.
package cli

import (
	log "log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// SetupLog installs a tint handler on stdout. Unknown levels mean info.
func SetupLog(level string) {
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[level],
		TimeFormat: time.TimeOnly,
	})))
}

// Fatal logs and exits with status 1.
func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
