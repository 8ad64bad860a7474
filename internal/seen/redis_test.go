package seen

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewRedis_UnreachableServer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"})
	if err == nil || !strings.Contains(err.Error(), "ping redis 127.0.0.1:1") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestRedis_MarkAndSeen(t *testing.T) {
	t.Parallel()

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}

	ctx := context.Background()
	cache, err := NewRedis(ctx, RedisOptions{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer cache.Close()

	medium := "test-" + uuid.NewString()
	seen, err := cache.Seen(ctx, medium, "g1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Fatalf("expected fresh guid to be unseen")
	}

	if err := cache.Mark(ctx, medium, "g1", time.Minute); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	seen, err = cache.Seen(ctx, medium, "g1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Fatalf("expected marked guid to be seen")
	}

	other, err := cache.Seen(ctx, medium+"-other", "g1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if other {
		t.Fatalf("expected seen markers to be scoped by medium")
	}

	ttl, err := cache.client.TTL(ctx, Key(medium, "g1")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within a minute, got %s", ttl)
	}
}
