// Package relay wires the relay's HTTP routes: health, cached weather
// lookups and metrics, behind CORS and a JSON error envelope.
package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/weather-relay/pkg/cache"
	"github.com/Sternrassler/weather-relay/pkg/metrics"
	"github.com/Sternrassler/weather-relay/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultWeatherTTL is how long weather responses are cached.
const DefaultWeatherTTL = 10 * time.Minute

// DefaultLookupTimeout bounds one weather lookup, upstream retries included.
const DefaultLookupTimeout = 45 * time.Second

// pingBody is the health-check answer.
const pingBody = "API is running!"

// WeatherLookup resolves a city to its merged geo and weather document.
type WeatherLookup interface {
	Lookup(ctx context.Context, city string, units upstream.Units) ([]byte, error)
}

// Config holds the relay handler configuration.
type Config struct {
	// Weather performs upstream lookups (REQUIRED)
	Weather WeatherLookup

	// Store caches weather responses; nil disables caching
	Store cache.Store

	// WeatherTTL is the cache window for /weather (default: DefaultWeatherTTL)
	WeatherTTL time.Duration

	// LookupTimeout bounds each upstream lookup (default: DefaultLookupTimeout)
	LookupTimeout time.Duration

	// VerifyToken is the shared secret expected in the verify parameter (REQUIRED)
	VerifyToken string

	// SingleFlight coalesces concurrent cache misses for one key
	SingleFlight bool
}

// Relay serves the relay's routes.
type Relay struct {
	config  Config
	logger  zerolog.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// New builds the relay handler.
func New(cfg Config) (*Relay, error) {
	if cfg.Weather == nil {
		return nil, errors.New("weather lookup is required")
	}
	if cfg.VerifyToken == "" {
		return nil, errors.New("verify token is required")
	}
	if cfg.WeatherTTL == 0 {
		cfg.WeatherTTL = DefaultWeatherTTL
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}

	r := &Relay{
		config: cfg,
		logger: log.With().Str("component", "relay").Logger(),
		mux:    http.NewServeMux(),
	}
	r.routes()
	r.handler = cors(r.mux)
	return r, nil
}

func (r *Relay) routes() {
	opts := []cache.Option{cache.WithLogger(log.With().Str("component", "cache").Logger())}
	if r.config.SingleFlight {
		opts = append(opts, cache.WithSingleFlight())
	}
	cached := cache.Middleware(r.config.Store, r.config.WeatherTTL, opts...)

	r.mux.Handle("/ping", instrument("ping", r.logger, http.HandlerFunc(ping)))
	r.mux.Handle("/weather", instrument("weather", r.logger,
		r.authorize(cached(http.HandlerFunc(r.weather)))))
	r.mux.Handle("/metrics", instrument("metrics", r.logger, metrics.Handler()))
	r.mux.Handle("/", instrument("not_found", r.logger, http.HandlerFunc(notFound)))
}

// ServeHTTP implements http.Handler.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(pingBody))
}

// authorize rejects requests whose verify parameter does not match the
// shared secret. It runs in front of the cache so a stored response is
// never served to an unauthorized caller.
func (r *Relay) authorize(next http.Handler) http.Handler {
	token := []byte(r.config.VerifyToken)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		verify := []byte(req.URL.Query().Get("verify"))
		if subtle.ConstantTimeCompare(verify, token) != 1 {
			r.logger.Warn().Str("remote", req.RemoteAddr).Msg("Rejected weather call with bad verify token")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized."))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Relay) weather(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	city := query.Get("q")
	if city == "" {
		writeError(w, http.StatusBadRequest, "Bad Request", "missing q parameter")
		return
	}

	units := upstream.UnitsMetric
	if query.Get("freedom") == "true" {
		units = upstream.UnitsImperial
	}

	r.logger.Info().
		Str("client_id", query.Get("id")).
		Str("city", city).
		Msg("Got incoming weather call")

	ctx, cancel := context.WithTimeout(req.Context(), r.config.LookupTimeout)
	defer cancel()

	body, err := r.config.Weather.Lookup(ctx, city, units)
	if err != nil {
		status, title := lookupStatus(err)
		r.logger.Error().Err(err).Str("city", city).Int("status", status).Msg("Weather lookup failed")
		writeError(w, status, title, lookupDetail(status))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(body)
}

// lookupStatus maps a lookup failure to the status returned to the client.
func lookupStatus(err error) (int, string) {
	switch {
	case errors.Is(err, upstream.ErrNoLocation):
		return http.StatusNotFound, "Location Not Found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Gateway Timeout"
	default:
		return http.StatusBadGateway, "Bad Gateway"
	}
}

// lookupDetail is the client-facing explanation for a lookup failure. The
// underlying error stays in the logs.
func lookupDetail(status int) string {
	switch status {
	case http.StatusNotFound:
		return "no location matches the requested city"
	case http.StatusGatewayTimeout:
		return "weather service did not answer in time"
	default:
		return "weather service request failed"
	}
}
