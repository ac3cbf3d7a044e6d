// Package telemetry builds the process logger and tracer provider.
package telemetry

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger returns a timestamped logger writing to w. An empty or unknown
// level falls back to info.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.SyncWriter(w)).Level(lvl).With().Timestamp().Str("service", ServiceName).Logger()
}
