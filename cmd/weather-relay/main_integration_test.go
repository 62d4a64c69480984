//go:build integration

package main

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/weather-relay/pkg/cache"
	"github.com/Sternrassler/weather-relay/pkg/config"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { redisC.Terminate(ctx) })

	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get container endpoint: %v", err)
	}
	return endpoint
}

func TestNewStore_Redis(t *testing.T) {
	addr := setupTestRedis(t)

	for _, raw := range []string{addr, "redis://" + addr + "/0"} {
		t.Run(raw, func(t *testing.T) {
			store, closer, err := newStore(context.Background(), config.Config{RedisURL: raw}, zerolog.Nop())
			if err != nil {
				t.Fatalf("newStore() error = %v", err)
			}
			defer closer.Close()

			if _, ok := store.(*cache.RedisStore); !ok {
				t.Fatalf("store = %T, want *cache.RedisStore", store)
			}

			ctx := context.Background()
			entry := &cache.Entry{Data: []byte(`{"ok":true}`), StatusCode: 200, ContentType: "application/json"}
			if err := store.Set(ctx, "relay:/weather?q=Oslo", entry, time.Minute); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := store.Get(ctx, "relay:/weather?q=Oslo")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got.Data) != `{"ok":true}` {
				t.Errorf("Data = %q, want %q", got.Data, `{"ok":true}`)
			}
		})
	}
}
