// Package logging configures the shared logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	l "github.com/sirupsen/logrus"
)

const (
	logFilename = "tunesync.log"

	// log file is truncated at startup once it grows past this
	maxLogSize = 10 << 20
)

// Setup directs the shared logger at logDir/tunesync.log and applies the
// configured level. No log entries are possible before this call. With
// console set, entries at warn and above are echoed to stderr; verbose
// forces debug level and echoes everything.
func Setup(logDir, level string, console, verbose bool) error {
	lvl, err := l.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	if verbose {
		lvl = l.DebugLevel
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(logDir, logFilename)
	if info, err := os.Stat(path); err == nil && info.Size() > maxLogSize {
		if err := os.Truncate(path, 0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
	}

	// create or open file for write & append
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.SetOutput(f)
	l.SetLevel(lvl)
	l.SetFormatter(&l.TextFormatter{FullTimestamp: true, DisableColors: true})
	if console {
		l.AddHook(&consoleHook{
			writer:    os.Stderr,
			formatter: &l.TextFormatter{DisableTimestamp: true},
			levels:    consoleLevels(verbose),
		})
	}
	return nil
}

func consoleLevels(verbose bool) []l.Level {
	if verbose {
		return l.AllLevels
	}
	return []l.Level{l.PanicLevel, l.FatalLevel, l.ErrorLevel, l.WarnLevel}
}

// consoleHook echoes selected levels to a second writer, independently of
// the logger's file output.
type consoleHook struct {
	writer    io.Writer
	formatter l.Formatter
	levels    []l.Level
}

func (h *consoleHook) Levels() []l.Level { return h.levels }

func (h *consoleHook) Fire(entry *l.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}
