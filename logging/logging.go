// Package logging configures the structured zerolog.Logger shared by the
// server, node, and client binaries.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Config controls where and how verbosely log events are written.
type Config struct {
	// Level is a zerolog level name: "debug", "info", "warn", "error".
	Level string
	// Path, if non-empty, additionally writes rotated JSON logs here via
	// lumberjack. Logs always go to stdout as well.
	Path string
}

// New builds a zerolog.Logger per Config, grounded on
// R2Northstar-Atlas's configureLogging (zerolog.New(...).Level(...).With().Timestamp().Logger()
// chain), using lumberjack for file rotation instead of atlas's manual
// reopen-on-SIGHUP plumbing.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if cfg.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    64,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, nil
}
