// Package upstream provides the HTTP client for the geocoding and weather
// APIs behind the relay, with retry and error classification.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for upstream operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_requests_total",
		Help: "Total upstream requests by service and status",
	}, []string{"service", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by service",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"service"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Service names used in metrics, logs and errors.
const (
	ServiceGeo     = "geo"
	ServiceWeather = "weather"
)

// excludedParts are the weather API sections the relay never forwards.
const excludedParts = "hourly,minutely,alerts"

// maxBodyBytes bounds how much of an upstream body is read.
const maxBodyBytes = 4 << 20

// Units selects the measurement system of weather responses.
type Units string

const (
	// UnitsMetric reports Celsius and meters/second.
	UnitsMetric Units = "metric"

	// UnitsImperial reports Fahrenheit and miles/hour.
	UnitsImperial Units = "imperial"
)

// Location is a geocoded city.
type Location struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as the appid query parameter to both services.
	APIKey string

	// WeatherURL is the weather endpoint (e.g. the One Call API).
	WeatherURL string

	// GeoURL is the direct geocoding endpoint.
	GeoURL string

	// Timeout bounds a single upstream attempt.
	Timeout time.Duration

	// Retry overrides the per-class retry configuration when set.
	Retry *RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey, weatherURL, geoURL string) Config {
	return Config{
		APIKey:     apiKey,
		WeatherURL: weatherURL,
		GeoURL:     geoURL,
		Timeout:    30 * time.Second,
	}
}

// Client calls the geocoding and weather APIs.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.WeatherURL == "" {
		return nil, fmt.Errorf("weather url is required")
	}
	if cfg.GeoURL == "" {
		return nil, fmt.Errorf("geo url is required")
	}
	for _, raw := range []string{cfg.WeatherURL, cfg.GeoURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("parse upstream url %q: %w", raw, err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "upstream").Logger(),
	}, nil
}

// Geocode resolves a city name to coordinates. It returns ErrNoLocation when
// the geocoding service has no match.
func (c *Client) Geocode(ctx context.Context, city string) (*Location, error) {
	body, err := c.getJSON(ctx, ServiceGeo, c.config.GeoURL, url.Values{
		"q":     {city},
		"appid": {c.config.APIKey},
		"limit": {"1"},
	})
	if err != nil {
		return nil, err
	}

	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: geocoding body is not an array", ErrInvalidResponse)
	}

	first := result.Get("0")
	if !first.Exists() {
		return nil, fmt.Errorf("%w: %q", ErrNoLocation, city)
	}

	loc := &Location{
		Lat:  first.Get("lat").Float(),
		Lon:  first.Get("lon").Float(),
		Name: fmt.Sprintf("%s, %s", first.Get("name").String(), first.Get("country").String()),
	}

	c.logger.Info().
		Str("city", city).
		Float64("lat", loc.Lat).
		Float64("lon", loc.Lon).
		Str("name", loc.Name).
		Msg("Got geo")

	return loc, nil
}

// Weather fetches the raw weather document for a location.
func (c *Client) Weather(ctx context.Context, loc Location, units Units) ([]byte, error) {
	if units == "" {
		units = UnitsMetric
	}

	body, err := c.getJSON(ctx, ServiceWeather, c.config.WeatherURL, url.Values{
		"lat":     {strconv.FormatFloat(loc.Lat, 'f', -1, 64)},
		"lon":     {strconv.FormatFloat(loc.Lon, 'f', -1, 64)},
		"appid":   {c.config.APIKey},
		"exclude": {excludedParts},
		"units":   {string(units)},
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("%w: weather body is not an object", ErrInvalidResponse)
	}

	c.logger.Info().
		Str("location", loc.Name).
		Str("conditions", gjson.GetBytes(body, "current.weather.0.main").String()).
		Msg("Got weather")

	return body, nil
}

// Lookup geocodes city and returns its weather document with the location
// merged in under "geo" as the first field.
func (c *Client) Lookup(ctx context.Context, city string, units Units) ([]byte, error) {
	loc, err := c.Geocode(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}

	weather, err := c.Weather(ctx, *loc, units)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}

	merged, err := mergeGeo(*loc, weather)
	if err != nil {
		return nil, fmt.Errorf("merge geo: %w", err)
	}
	return merged, nil
}

// mergeGeo splices {"geo": loc} in front of the fields of the weather object,
// keeping the upstream field order and values byte for byte.
func mergeGeo(loc Location, weather []byte) ([]byte, error) {
	geo, err := json.Marshal(struct {
		Geo Location `json:"geo"`
	}{loc})
	if err != nil {
		return nil, err
	}

	inner := bytes.TrimSpace(weather)
	if len(inner) < 2 || inner[0] != '{' || inner[len(inner)-1] != '}' {
		return nil, fmt.Errorf("%w: weather body is not an object", ErrInvalidResponse)
	}
	inner = bytes.TrimSpace(inner[1 : len(inner)-1])
	if len(inner) == 0 {
		return geo, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(geo) + len(inner) + 1)
	buf.Write(geo[:len(geo)-1])
	buf.WriteByte(',')
	buf.Write(inner)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// getJSON performs a GET with retry and returns the body of a 2xx response.
func (c *Client) getJSON(ctx context.Context, service, endpoint string, params url.Values) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse %s url: %w", service, err)
	}
	query := u.Query()
	for key, values := range params {
		query[key] = values
	}
	u.RawQuery = query.Encode()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(service).Observe(time.Since(startTime).Seconds())
	}()

	var body []byte
	err = retryWithBackoff(ctx, c.logger, c.retryPolicy, func() error {
		var reqErr error
		body, reqErr = c.fetch(ctx, service, u.String())
		return reqErr
	})
	if err != nil {
		c.logger.Error().Err(err).Str("service", service).Msg("Upstream request failed")
		return nil, err
	}

	return body, nil
}

// fetch performs a single attempt.
func (c *Client) fetch(ctx context.Context, service, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		redactURLError(err)
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(service, "network_error").Inc()
		return nil, &Error{
			Service: service,
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(service, status).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("service", service).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &Error{
			Service:    service,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{
			Service:    service,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	return body, nil
}

// redactURLError masks the API key in the URL carried by a transport error,
// since that text ends up in logs and wrapped errors.
func redactURLError(err error) {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return
	}
	urlErr.URL = redactURL(urlErr.URL)
}

// redactURL replaces the appid query value of raw.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	query := u.Query()
	if query.Has("appid") {
		query.Set("appid", "REDACTED")
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) retryPolicy(class ErrorClass) RetryConfig {
	if c.config.Retry != nil {
		return *c.config.Retry
	}
	return RetryConfigForErrorClass(class)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
