// Package monitoring owns the process-wide structured logger.
//
// Packages take a component logger with Component and attach their own
// fields. Logf remains for one-line printf-style diagnostics and may be
// redirected or muted with SetLogf.
package monitoring

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Logf is the package-level diagnostic logger. It defaults to an info-level
// message on the structured logger but may be replaced by SetLogf.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	l := Logger()
	l.Info().Msgf(format, v...)
}

// SetLogf replaces the printf-style logger. Passing nil installs a no-op.
func SetLogf(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Init configures the global logger. Human-readable console output is used
// unless jsonOutput is set; verbose lowers the level to debug.
func Init(w io.Writer, verbose, jsonOutput bool) {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	out := w
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	SetLogger(zerolog.New(out).Level(level).With().Timestamp().Logger())
}

// Logger returns the current global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the global logger.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Component returns a child of the global logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}
