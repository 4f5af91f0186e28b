package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. It is usable before Init and discards
// debug output until configured.
var Log = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()

// Init configures the global logger for the given environment.
func Init(env string) {
	InitWriter(env, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(env string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "development" {
		Log = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
			Level(zerolog.DebugLevel).
			With().
			Timestamp().
			Caller().
			Logger()
		return
	}

	Log = zerolog.New(out).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

func Info() *zerolog.Event {
	return Log.Info()
}

func Error() *zerolog.Event {
	return Log.Error()
}

func Warn() *zerolog.Event {
	return Log.Warn()
}

func Debug() *zerolog.Event {
	return Log.Debug()
}

func Fatal() *zerolog.Event {
	return Log.Fatal()
}
