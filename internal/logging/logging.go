// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rasidhq/recharge/internal/config"
	"github.com/rasidhq/recharge/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup returns a logger writing to stdout and, when cfg.File is set, to a
// rotating file. Close the returned closer on shutdown.
func Setup(cfg config.LogConfig, stdout io.Writer) (*log.Logger, io.Closer, error) {
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		return nil, nil, fmt.Errorf("logging: %w", errLevel)
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	logger := log.New()
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	out := stdout
	if file := strings.TrimSpace(cfg.File); file != "" {
		file = util.ResolveWritable(file)
		if errMkdir := os.MkdirAll(filepath.Dir(file), 0o755); errMkdir != nil {
			return nil, nil, fmt.Errorf("logging: create log dir: %w", errMkdir)
		}
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stdout, rotator)
		closer = rotator
	}
	logger.SetOutput(out)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
