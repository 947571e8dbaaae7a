// Package logging wires zerolog to stderr and to a size-rotated file so the
// log command group can serve past files back to users.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "bot.log"

// Setup returns the root logger. All component loggers should be derived from
// it with With().Str("component", ...).
func Setup(dir string, debug bool) zerolog.Logger {
	_ = os.MkdirAll(dir, 0o755)

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(io.MultiWriter(console, fileSink)).
		Level(level).
		With().Timestamp().Logger()
}

// Files lists the current and rotated log files, newest first. Rotated
// backups carry a timestamp before the extension, so match on the suffix.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, err1 := os.Stat(matches[i])
		fj, err2 := os.Stat(matches[j])
		if err1 != nil || err2 != nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches, nil
}

// Tail returns the last n lines of the named log file.
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := splitLines(string(data))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
