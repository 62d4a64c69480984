package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/weather-relay/pkg/cache"
	"github.com/Sternrassler/weather-relay/pkg/config"
	"github.com/Sternrassler/weather-relay/pkg/logging"
	"github.com/Sternrassler/weather-relay/pkg/relay"
	"github.com/Sternrassler/weather-relay/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout = 10 * time.Second
	writeMargin     = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Relay failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	}
	if cfg.LogDir != "" {
		f, err := logging.OpenDailyFile(cfg.LogDir, time.Now())
		if err != nil {
			return err
		}
		defer f.Close()
		logCfg.File = f
	}
	logging.Setup(logCfg)
	logger := logging.NewLogger("main")

	logger.Info().Str("env", cfg.Env).Msgf("Booting in %s mode", cfg.Env)

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	client, err := upstream.New(upstream.Config{
		APIKey:     cfg.APIKey,
		WeatherURL: cfg.WeatherURL,
		GeoURL:     cfg.GeoURL,
		Timeout:    cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	handler, err := relay.New(relay.Config{
		Weather:       client,
		Store:         store,
		WeatherTTL:    cfg.WeatherCacheTTL,
		LookupTimeout: cfg.LookupTimeout,
		VerifyToken:   cfg.VerifyToken,
		SingleFlight:  cfg.CacheSingleFlight,
	})
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("Starting weather relay")

	return serve(ctx, newServer(handler, cfg.LookupTimeout), ln, logger)
}

// newStore picks the cache backend: Redis when REDIS_URL is set, otherwise
// the in-memory store. The returned closer releases the backend.
func newStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store, io.Closer, error) {
	if cfg.RedisURL == "" {
		store := cache.NewMemoryStore(cache.WithSweepInterval(cfg.CacheSweepInterval))
		logger.Info().Dur("sweep_interval", cfg.CacheSweepInterval).Msg("Using in-memory cache")
		return store, store, nil
	}

	opts, err := redisOptions(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opts)
	store := cache.NewRedisStore(redisClient)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return store, redisClient, nil
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}

// newServer leaves writeMargin past the lookup deadline so a timed-out
// lookup still reaches the client as a JSON error.
func newServer(handler http.Handler, lookupTimeout time.Duration) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      lookupTimeout + writeMargin,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs srv on ln until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down weather relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("Weather relay stopped")
	return nil
}
