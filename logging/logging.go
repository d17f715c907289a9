// Package logging builds the zerolog loggers used by the command line tools.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a zerolog.Logger together with the rotating file it writes
// to, if any.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New returns a logger at level writing console output to stderr and,
// when file is not empty, plain console format to a rotated log file.
// An unknown level falls back to info.
func New(level, file string) *Logger {
	return newLogger(os.Stderr, level, file)
}

func newLogger(console io.Writer, level, file string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
		},
	}

	l := &Logger{}
	if file != "" {
		l.file = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    32, // MB
			MaxBackups: 3,
			MaxAge:     14,
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        l.file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return l
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
