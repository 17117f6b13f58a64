// Package logging produces the relay's line-oriented log. Every record is a
// single line of the form "[relay:<severity>] <tokens...>" written to stderr
// and, when configured, appended to a log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger writes severity-tagged records.
type Logger struct {
	out  *log.Logger
	file *os.File
}

// New creates a Logger writing to stderr. If path is non-empty the same
// records are appended to the named file.
func New(path string) (*Logger, error) {
	var w io.Writer = os.Stderr
	var file *os.File

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		w = io.MultiWriter(os.Stderr, f)
	}

	return &Logger{
		out:  log.New(w, "", 0),
		file: file,
	}, nil
}

// Info logs an informational record.
func (l *Logger) Info(tokens ...any) { l.emit("info", tokens) }

// Warning logs a warning record.
func (l *Logger) Warning(tokens ...any) { l.emit("warning", tokens) }

// Error logs an error record.
func (l *Logger) Error(tokens ...any) { l.emit("error", tokens) }

func (l *Logger) emit(severity string, tokens []any) {
	parts := make([]string, 0, len(tokens)+1)
	parts = append(parts, "[relay:"+severity+"]")
	for _, t := range tokens {
		parts = append(parts, fmt.Sprint(t))
	}
	l.out.Print(strings.Join(parts, " "))
}

// Close flushes and closes the log file, if one is open.
func (l *Logger) Close() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
