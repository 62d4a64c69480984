package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/weather-relay/pkg/cache"
	"github.com/Sternrassler/weather-relay/pkg/config"
	"github.com/rs/zerolog"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("API_URL", "http://127.0.0.1:1/data/3.0/onecall")
	t.Setenv("GEO_URL", "http://127.0.0.1:1/geo/1.0/direct")
	t.Setenv("VERIFY", "s3cret")
	t.Setenv("PORT", "0")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ENV", "development")
}

func TestRun_InvalidConfig(t *testing.T) {
	for _, key := range []string{"API_KEY", "API_URL", "GEO_URL", "VERIFY"} {
		t.Setenv(key, "")
	}

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail without required settings")
	}
	if !strings.Contains(err.Error(), "API_KEY is required") {
		t.Errorf("run() error = %v, want mention of API_KEY", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	setRequiredEnv(t)
	logDir := t.TempDir()
	t.Setenv("LOG_DIR", logDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	logFile := filepath.Join(logDir, time.Now().Format("01022006")+".log")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("daily log file missing: %v", err)
	}
	if !strings.Contains(string(data), "Booting in development mode") {
		t.Errorf("log file = %q, want boot message", string(data))
	}
}

func TestNewStore_Memory(t *testing.T) {
	cfg := config.Config{CacheSweepInterval: time.Minute}

	store, closer, err := newStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	defer closer.Close()

	if _, ok := store.(*cache.MemoryStore); !ok {
		t.Errorf("store = %T, want *cache.MemoryStore", store)
	}
}

func TestNewStore_RedisUnreachable(t *testing.T) {
	cfg := config.Config{RedisURL: "127.0.0.1:1"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, _, err := newStore(ctx, cfg, zerolog.Nop()); err == nil {
		t.Error("newStore() should fail when Redis is unreachable")
	}
}

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "host port", raw: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url", raw: "redis://cache:6380/2", wantAddr: "cache:6380", wantDB: 2},
		{name: "bad scheme", raw: "http://cache:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := redisOptions(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("redisOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if opts.Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", opts.Addr, tt.wantAddr)
			}
			if opts.DB != tt.wantDB {
				t.Errorf("DB = %d, want %d", opts.DB, tt.wantDB)
			}
		})
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, newServer(handler, time.Second), ln, zerolog.Nop())
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "OK" {
		t.Errorf("body = %q, want %q", string(body), "OK")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestNewServer_WriteTimeoutCoversLookup(t *testing.T) {
	lookup := 45 * time.Second
	srv := newServer(http.NotFoundHandler(), lookup)

	if srv.WriteTimeout <= lookup {
		t.Errorf("WriteTimeout = %v, want more than lookup timeout %v", srv.WriteTimeout, lookup)
	}
}
