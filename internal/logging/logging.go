// Package logging sets up structured JSON logging with zerolog
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, destination and time format of the daemon log
type Config struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
	// Output is "stdout", "stderr" or a file path opened for appending
	Output     string `yaml:"output"`
	TimeFormat string `yaml:"time_format"`
	// Console switches to zerolog's human-readable console writer
	Console bool `yaml:"console"`
}

// DefaultConfig logs at info level to stderr
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	}
}

// New builds a logger from cfg. The returned closer releases an opened log
// file and is never nil.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level: %w", err)
		}
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log output: %w", err)
		}
		out, closer = f, f
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	} else {
		zerolog.TimeFieldFormat = timeFormat
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer, nil
}

// WithComponent returns a sub-logger tagged with the component name
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
