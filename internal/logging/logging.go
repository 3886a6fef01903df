// Package logging configures the logrus logger shared by h2trace commands.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrzor/h2trace/internal/config"
)

// New returns a logger configured from cfg, and a cleanup func that closes
// the log file if one was opened. Logs go to stderr, and additionally to a
// rotated file when cfg.File is set.
func New(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cleanup := func() {}
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,  // megabytes
			MaxBackups: cfg.MaxBackups, // number of backups
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(os.Stderr, file)
		cleanup = func() {
			_ = file.Close() //nolint:errcheck // Best-effort on shutdown
		}
	}
	logger.SetOutput(out)
	return logger, cleanup, nil
}
