package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// silentPaths are high-frequency polling endpoints that are only logged on errors (status >= 400).
var silentPaths = map[string]bool{
	"/api/health": true,
	"/api/jobs":   true,
	"/metrics":    true,
}

// Logger attaches logger to every request with a request id and writes one
// access line per request.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		if silentPaths[r.URL.Path] && status < 400 {
			return
		}
		ev := hlog.FromRequest(r).Info()
		if status >= 500 {
			ev = hlog.FromRequest(r).Error()
		} else if status >= 400 {
			ev = hlog.FromRequest(r).Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("[http] request")
	})
	return func(next http.Handler) http.Handler {
		h := access(next)
		h = hlog.RemoteAddrHandler("ip")(h)
		h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
		return hlog.NewHandler(logger)(h)
	}
}
