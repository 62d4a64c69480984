package relay

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/weather-relay/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_http_requests_total",
	Help: "Total inbound HTTP requests by route and status code",
}, []string{"route", "code"})

// cors adds the permissive CORS headers the relay's browser clients rely on.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

// statusWriter remembers the status code sent by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

// instrument counts and logs requests to a named route.
func instrument(route string, logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()

		logger.Debug().
			Str("route", route).
			Str("method", r.Method).
			Int("status", sw.status).
			Str("cache", w.Header().Get(cache.HeaderCache)).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	})
}
