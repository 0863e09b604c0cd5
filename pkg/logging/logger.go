// Package logging builds the process logger on top of charmbracelet/log.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr. debug forces debug level with caller
// and timestamps; otherwise level is parsed from the given name (default info).
func New(level string, debug bool) *log.Logger {
	if debug {
		l := log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			Prefix:          "alertbox",
		})
		l.SetLevel(log.DebugLevel)
		return l
	}

	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "alertbox",
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a level name to a log.Level, falling back to info.
func ParseLevel(name string) log.Level {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return log.InfoLevel
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
