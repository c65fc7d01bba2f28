package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client), mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "rl:user-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("chamada %d dentro do limite foi bloqueada", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("chamada %d: Remaining = %d", i+1, res.Remaining)
		}
	}
}

func TestAllowBlocksOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, "rl:user-1", 2, time.Minute); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	res, err := l.Allow(ctx, "rl:user-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Error("terceira chamada com limite 2 deveria ser bloqueada")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d", res.Remaining)
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	if _, err := l.Allow(ctx, "rl:user-1", 1, time.Minute); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	res, err := l.Allow(ctx, "rl:user-2", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !res.Allowed {
		t.Error("chaves distintas não compartilham contador")
	}
}

func TestAllowWindowReset(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	if _, err := l.Allow(ctx, "rl:user-1", 1, time.Minute); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	res, err := l.Allow(ctx, "rl:user-1", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("janela ainda ativa deveria bloquear")
	}

	// miniredis só expira chaves com avanço explícito do relógio.
	mr.FastForward(time.Minute + time.Second)

	res, err = l.Allow(ctx, "rl:user-1", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !res.Allowed {
		t.Error("janela expirada deveria liberar novamente")
	}
}
