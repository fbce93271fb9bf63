// Package logger provides the leveled logger used throughout infractl.
//
// Two printers are available: a console printer for interactive use and a
// JSON printer for log shippers. Both serialize writes so concurrent tasks
// never interleave lines.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	nocolor   = "0"
	red       = "31"
	green     = "38;5;48"
	yellow    = "33"
	gray      = "38;5;251"
	lightgray = "38;5;243"
	cyan      = "1;36"
)

const DateFormat = "2006-01-02 15:04:05"

var mutex = sync.Mutex{}

type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Notice(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
	Fatal(format string, v ...any)

	WithPrefix(prefix string) Logger
	SetLevel(level Level)
	Level() Level
}

// TextLogger writes human-readable lines, optionally colored.
type TextLogger struct {
	level  Level
	Colors bool
	Prefix string
	Writer io.Writer
	ExitFn func()
}

func NewTextLogger() *TextLogger {
	return &TextLogger{
		level:  INFO,
		Colors: ColorsAvailable(),
		Writer: os.Stderr,
	}
}

// ColorsAvailable reports whether stderr is a terminal.
func ColorsAvailable() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// WithPrefix returns a copy of the logger with the provided prefix.
func (l *TextLogger) WithPrefix(prefix string) Logger {
	clone := *l
	clone.Prefix = prefix
	return &clone
}

func (l *TextLogger) SetLevel(level Level) { l.level = level }
func (l *TextLogger) Level() Level         { return l.level }

func (l *TextLogger) Debug(format string, v ...any) {
	if l.level <= DEBUG {
		l.log(DEBUG, format, v...)
	}
}

func (l *TextLogger) Info(format string, v ...any) {
	if l.level <= INFO {
		l.log(INFO, format, v...)
	}
}

func (l *TextLogger) Notice(format string, v ...any) {
	if l.level <= NOTICE {
		l.log(NOTICE, format, v...)
	}
}

func (l *TextLogger) Warn(format string, v ...any) {
	if l.level <= WARN {
		l.log(WARN, format, v...)
	}
}

func (l *TextLogger) Error(format string, v ...any) {
	l.log(ERROR, format, v...)
}

func (l *TextLogger) Fatal(format string, v ...any) {
	l.log(FATAL, format, v...)
	if l.ExitFn != nil {
		l.ExitFn()
		return
	}
	os.Exit(1)
}

func (l *TextLogger) log(level Level, format string, v ...any) {
	message := fmt.Sprintf(format, v...)
	now := time.Now().Format(DateFormat)
	var line string

	if l.Colors {
		levelColor := green
		messageColor := nocolor

		switch level {
		case DEBUG:
			levelColor = gray
			messageColor = gray
		case NOTICE:
			levelColor = cyan
		case WARN:
			levelColor = yellow
		case ERROR, FATAL:
			levelColor = red
		}
		if level == FATAL {
			messageColor = red
		}

		if l.Prefix != "" {
			line = fmt.Sprintf("\x1b[%sm%s %-6s\x1b[0m \x1b[%sm%s\x1b[0m \x1b[%sm%s\x1b[0m\n", levelColor, now, level, lightgray, l.Prefix, messageColor, message)
		} else {
			line = fmt.Sprintf("\x1b[%sm%s %-6s\x1b[0m \x1b[%sm%s\x1b[0m\n", levelColor, now, level, messageColor, message)
		}
	} else {
		if l.Prefix != "" {
			line = fmt.Sprintf("%s %-6s %s %s\n", now, level, l.Prefix, message)
		} else {
			line = fmt.Sprintf("%s %-6s %s\n", now, level, message)
		}
	}

	// One line at a time
	mutex.Lock()
	fmt.Fprint(l.Writer, line)
	mutex.Unlock()
}

// JSONLogger writes one JSON object per line.
type JSONLogger struct {
	level  Level
	Prefix string
	Writer io.Writer
	ExitFn func()
}

func NewJSONLogger() *JSONLogger {
	return &JSONLogger{
		level:  INFO,
		Writer: os.Stderr,
	}
}

func (l *JSONLogger) WithPrefix(prefix string) Logger {
	clone := *l
	clone.Prefix = prefix
	return &clone
}

func (l *JSONLogger) SetLevel(level Level) { l.level = level }
func (l *JSONLogger) Level() Level         { return l.level }

func (l *JSONLogger) Debug(format string, v ...any) {
	if l.level <= DEBUG {
		l.log(DEBUG, format, v...)
	}
}

func (l *JSONLogger) Info(format string, v ...any) {
	if l.level <= INFO {
		l.log(INFO, format, v...)
	}
}

func (l *JSONLogger) Notice(format string, v ...any) {
	if l.level <= NOTICE {
		l.log(NOTICE, format, v...)
	}
}

func (l *JSONLogger) Warn(format string, v ...any) {
	if l.level <= WARN {
		l.log(WARN, format, v...)
	}
}

func (l *JSONLogger) Error(format string, v ...any) {
	l.log(ERROR, format, v...)
}

func (l *JSONLogger) Fatal(format string, v ...any) {
	l.log(FATAL, format, v...)
	if l.ExitFn != nil {
		l.ExitFn()
		return
	}
	os.Exit(1)
}

func (l *JSONLogger) log(level Level, format string, v ...any) {
	entry := map[string]string{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   fmt.Sprintf(format, v...),
	}
	if l.Prefix != "" {
		entry["prefix"] = l.Prefix
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return
	}

	mutex.Lock()
	fmt.Fprintln(l.Writer, string(b))
	mutex.Unlock()
}

// Discard throws away everything logged to it.
var Discard = &TextLogger{level: FATAL + 1, Writer: io.Discard, ExitFn: func() {}}
