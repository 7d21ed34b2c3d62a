// Package logtrace configures the process-wide zerolog logger and carries
// request ids through contexts.
package logtrace

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options control InitLogger.
type Options struct {
	Debug   bool
	Verbose bool   // human-readable console output on stderr
	LogFile string // append JSON lines to this file instead of stderr
}

// InitLogger sets up the global logger. It returns a closer for the log file,
// which is a no-op when logging to stderr.
func InitLogger(opts Options) (func() error, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	switch {
	case opts.LogFile != "":
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return closer, err
		}
		w = f
		closer = f.Close
	case opts.Verbose:
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return closer, nil
}
