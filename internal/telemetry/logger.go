// Package telemetry configures logging and OpenTelemetry exporters.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where and how verbosely the process logs.
type LogConfig struct {
	Level string
	Dir   string
	// Console mirrors logs to stderr in human readable form.
	Console bool
}

// InitLogger points the global zerolog logger at a rotated JSON file and,
// optionally, the console. The returned closer flushes the file.
func InitLogger(cfg LogConfig) (io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	file := rotatingFile(dir, "liveline.log")
	writers := []io.Writer{file}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return file, nil
}

func parseLevel(value string) (zerolog.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}
	return level, nil
}

func rotatingFile(dir string, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}
