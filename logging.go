package main

import (
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logDate = `2006-01-02T15:04:05.000-07:00`

// setupLogging points the global zerolog logger at w. Verbose mode lowers
// the level to debug so per-connection and per-room traffic is visible.
func setupLogging(cfg *Config, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	zerolog.TimeFieldFormat = logDate
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: logDate}).With().Timestamp().Logger()

	if cfg.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// humanReadableSize formats a byte count with SI units for log lines.
func humanReadableSize(bytes int64) string {
	const unit = 1000
	if bytes < unit {
		return strconv.FormatInt(bytes, 10) + " B"
	}

	value := float64(bytes)
	suffix := 0
	for value >= unit && suffix < len(sizeSuffixes) {
		value /= unit
		suffix++
	}

	return strconv.FormatFloat(value, 'f', 1, 64) + " " + string(sizeSuffixes[suffix-1]) + "B"
}

const sizeSuffixes = "kMGTPE"
