// Package logger provides collabd's structured logging, a thin wrapper
// over zerolog configured from the environment the way a concurrent
// network service needs: leveled, field-based, and cheap to call on the
// hot broadcast path.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger from LOG_LEVEL ("debug", "info",
// "warn", "error"; default "info") and LOG_FORMAT ("json", default, or
// "pretty" for a human-readable console writer during local development).
func Init() {
	level := strings.ToLower(os.Getenv("LOG_LEVEL"))
	zerolog.SetGlobalLevel(parseLevel(level))

	var out io.Writer = os.Stdout
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "pretty" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	log = zerolog.New(out).With().Timestamp().Str("service", "collabd").Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs at debug level with structured key/value fields, e.g.
// logger.Debug("submit accepted", "document_id", id, "version", v).
func Debug(msg string, kv ...interface{}) { event(log.Debug(), msg, kv) }

// Info logs at info level with structured key/value fields.
func Info(msg string, kv ...interface{}) { event(log.Info(), msg, kv) }

// Warn logs at warn level with structured key/value fields.
func Warn(msg string, kv ...interface{}) { event(log.Warn(), msg, kv) }

// Error logs at error level with structured key/value fields. Pass the
// error itself as one of the kv values, or use ErrorErr for the common
// "message plus one error" case.
func Error(msg string, kv ...interface{}) { event(log.Error(), msg, kv) }

// ErrorErr logs err at error level alongside msg and any extra fields.
func ErrorErr(err error, msg string, kv ...interface{}) {
	event(log.Error().Err(err), msg, kv)
}

func event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
