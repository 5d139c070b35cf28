package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger writing to stdout. The level string follows
// the log_level config value (debug, info, warn, error); anything
// unrecognized falls back to info.
func New(level string) *zerolog.Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter is New with an explicit output. Tests pass a buffer here.
func NewWithWriter(level string, out io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(console).Level(lvl).With().Timestamp().Logger()
	return &logger
}
