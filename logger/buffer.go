package logger

import (
	"fmt"
	"strings"
	"sync"
)

type bufferCore struct {
	mu    sync.Mutex
	lines []string
}

// Buffer is a Logger that collects formatted lines in memory. Tests use
// it to assert on what a component logged. Prefixed children share the
// parent's line store.
type Buffer struct {
	core   *bufferCore
	prefix string
}

func NewBuffer() *Buffer {
	return &Buffer{core: &bufferCore{lines: []string{}}}
}

func (b *Buffer) append(level, format string, v ...any) {
	b.core.mu.Lock()
	defer b.core.mu.Unlock()

	line := "[" + level + "] "
	if b.prefix != "" {
		line += b.prefix + ": "
	}
	b.core.lines = append(b.core.lines, line+fmt.Sprintf(format, v...))
}

func (b *Buffer) Debug(format string, v ...any)  { b.append("debug", format, v...) }
func (b *Buffer) Info(format string, v ...any)   { b.append("info", format, v...) }
func (b *Buffer) Notice(format string, v ...any) { b.append("notice", format, v...) }
func (b *Buffer) Warn(format string, v ...any)   { b.append("warn", format, v...) }
func (b *Buffer) Error(format string, v ...any)  { b.append("error", format, v...) }
func (b *Buffer) Fatal(format string, v ...any)  { b.append("fatal", format, v...) }

// Lines returns a copy of everything logged so far, across prefixes.
func (b *Buffer) Lines() []string {
	b.core.mu.Lock()
	defer b.core.mu.Unlock()
	return append([]string(nil), b.core.lines...)
}

// Contains reports whether any logged line contains the substring.
func (b *Buffer) Contains(substr string) bool {
	b.core.mu.Lock()
	defer b.core.mu.Unlock()
	for _, line := range b.core.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// WithPrefix returns a logger writing into the same buffer under an
// extended prefix, mirroring how the real logger scopes subsystems.
func (b *Buffer) WithPrefix(prefix string) Logger {
	combined := prefix
	if b.prefix != "" {
		combined = b.prefix + "/" + prefix
	}
	return &Buffer{core: b.core, prefix: combined}
}

func (b *Buffer) SetLevel(level Level) {}
func (b *Buffer) Level() Level         { return DEBUG }
