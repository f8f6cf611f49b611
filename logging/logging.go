// Package logging routes library messages to caller-supplied sinks.
//
// Three message levels are recognized: 0 for normal log messages, 1 for
// diagnostics, and 2 or higher for errors. Normal messages go to the log
// sink with the log prefix; diagnostics and errors go to the diag sink,
// errors with the error prefix. Each message also carries a verbosity
// threshold and is dropped when it exceeds the logger's verbosity.
//
// Loggers are per connection; the nil logger is valid and writes through
// the process-wide standard logger.
package logging

import (
	"fmt"
	"log"
	"strings"
)

// Logger holds the sink functions and verbosity for one connection.
type Logger struct {
	Verbosity int
	LogPrint  func(string)
	DiagPrint func(string)
	LogPrefix string
	ErrPrefix string
}

// New returns a Logger at the given verbosity with default sinks.
func New(verbosity int) *Logger {
	return &Logger{Verbosity: verbosity}
}

func defaultPrint(msg string) {
	log.Print(strings.TrimRight(msg, "\n"))
}

// Logf formats a message and routes it by level, suppressing it when
// verbosity exceeds the logger's threshold. A nil receiver logs through
// the standard logger at verbosity 0.
func (l *Logger) Logf(level, verbosity int, format string, args ...any) {
	var threshold int
	if l != nil {
		threshold = l.Verbosity
	}
	if verbosity > threshold {
		return
	}

	msg := fmt.Sprintf(format, args...)

	var sink func(string)
	var prefix string
	if l != nil {
		if level >= 1 {
			sink = l.DiagPrint
		} else {
			sink = l.LogPrint
		}
		if level >= 2 {
			prefix = l.ErrPrefix
		} else {
			prefix = l.LogPrefix
		}
	}
	if sink == nil {
		sink = defaultPrint
	}

	sink(prefix + msg)
}
