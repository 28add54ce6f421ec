package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request. Health checks log at debug.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := zerolog.InfoLevel
		switch {
		case ww.Status() >= 500:
			level = zerolog.ErrorLevel
		case ww.Status() >= 400:
			level = zerolog.WarnLevel
		case r.URL.Path == "/health":
			level = zerolog.DebugLevel
		}

		log.WithLevel(level).
			Str("requestId", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}
