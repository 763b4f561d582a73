package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*RequestLogger)(nil)

// RequestLogger logs every HTTP exchange made through the wrapped round tripper.
// Query strings are dropped from the logged URL.
type RequestLogger struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

func NewRequestLogger(logger zerolog.Logger, next http.RoundTripper) *RequestLogger {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RequestLogger{logger: logger, next: next}
}

func (r *RequestLogger) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	u := *req.URL
	u.RawQuery = ""

	resp, err := r.next.RoundTrip(req)
	if err != nil {
		r.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Str("url", u.String()).
			Dur("duration", time.Since(started)).
			Msg("http request failed")

		return resp, err
	}

	r.logger.Debug().
		Str("method", req.Method).
		Str("url", u.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("http request")

	return resp, nil
}
