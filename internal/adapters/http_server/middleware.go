package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"padu/internal/adapters/observability"
	"padu/internal/routing"
)

func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, "timeout") }
}

type surfaceKey struct{}

// Surface tags each request with the surface it was addressed to.
func Surface(routes routing.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := routes.Detect(r.Host, r.URL)
			w.Header().Set("X-Padu-Surface", string(s))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), surfaceKey{}, s)))
		})
	}
}

func surfaceFrom(ctx context.Context) routing.Surface {
	if s, ok := ctx.Value(surfaceKey{}).(routing.Surface); ok {
		return s
	}
	return routing.SurfaceMarketing
}

// recorder remembers the status and body size of a response.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *recorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *recorder) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// observe runs next and hands the finished exchange to done.
func observe(next http.Handler, done func(r *http.Request, rec *recorder, dur time.Duration)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		done(r, rec, time.Since(start))
	})
}

// routePattern prefers the matched chi pattern so metrics stay low-cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func Metrics(next http.Handler) http.Handler {
	return observe(next, func(r *http.Request, rec *recorder, dur time.Duration) {
		observability.ObserveHTTP(routePattern(r), r.Method, rec.code(), dur)
	})
}

// Logger writes one access line per request. RealIP runs first, so
// RemoteAddr already holds the client address.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return observe(next, func(r *http.Request, rec *recorder, dur time.Duration) {
			ev := l.Info()
			if rec.code() >= 500 {
				ev = l.Error()
			}
			ev.Str("route", routePattern(r)).
				Str("method", r.Method).
				Int("status", rec.code()).
				Int("bytes", rec.bytes).
				Str("surface", string(surfaceFrom(r.Context()))).
				Dur("duration", dur).
				Str("remote", clientHost(r.RemoteAddr)).
				Str("ua", r.UserAgent()).
				Msg("http_request")
		})
	}
}

func clientHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
