package utils

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger builds the process logger and installs it as the zerolog default.
func NewLogger(env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if env == "test" {
		logger = logger.Level(zerolog.WarnLevel)
	}
	log.Logger = logger
	return logger
}

// RequestLogger logs one line per request once the handler returns.
func RequestLogger(logger zerolog.Logger, next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		evt := logger.Info()
		if p.StatusCode >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.
			Str("method", p.Request.Method).
			Str("path", p.URL.Path).
			Int("status", p.StatusCode).
			Int("size", p.Size).
			Dur("latency", time.Since(p.TimeStamp)).
			Str("remote_ip", p.Request.RemoteAddr).
			Msg("request")
	})
}
