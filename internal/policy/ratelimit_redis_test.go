package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return s, rdb
}

func newTestRedisWindow(rdb *redis.Client, clock *fakeClock) *RedisSlidingWindow {
	l := NewRedisSlidingWindow(rdb, time.Minute)
	l.now = clock.Now
	return l
}

func TestRedisSlidingWindow_AllowUpToLimit(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	l := newTestRedisWindow(rdb, newFakeClock())
	limit := domain.RateLimit{MaxRequests: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "agent", limit)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "agent", limit); ok {
		t.Fatal("4th request must be rejected")
	}
	// Отказ не расходует квоту
	if n := rdb.ZCard(ctx, infra.RateWindowKey("agent")).Val(); n != 3 {
		t.Errorf("stamps = %d, want 3", n)
	}
}

func TestRedisSlidingWindow_AgeOut(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	l := newTestRedisWindow(rdb, clock)
	limit := domain.RateLimit{MaxRequests: 2, Window: time.Minute}

	l.Allow(ctx, "agent", limit)
	clock.Advance(30 * time.Second)
	l.Allow(ctx, "agent", limit)
	if ok, _ := l.Allow(ctx, "agent", limit); ok {
		t.Fatal("limit must hold inside the window")
	}

	// Ровно через окно первая метка выпадает
	clock.Advance(30 * time.Second)
	if ok, _ := l.Allow(ctx, "agent", limit); !ok {
		t.Fatal("oldest stamp should have aged out")
	}
	if ok, _ := l.Allow(ctx, "agent", limit); ok {
		t.Fatal("second stamp is still inside the window")
	}
}

func TestRedisSlidingWindow_RecordKeepsStampsOfLongerWindow(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	l := newTestRedisWindow(rdb, clock)
	l.SetRetention(5 * time.Minute)

	for i := 0; i < 3; i++ {
		if err := l.Record(ctx, "agent"); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(70 * time.Second)
	l.Record(ctx, "agent")
	clock.Advance(20 * time.Second)

	if ok, _ := l.Allow(ctx, "agent", domain.RateLimit{MaxRequests: 3, Window: 5 * time.Minute}); ok {
		n := rdb.ZCard(ctx, infra.RateWindowKey("agent")).Val()
		t.Fatalf("over-admission: %d stamps kept", n)
	}
}

func TestRedisSlidingWindow_RecordDoesNotShortenTTL(t *testing.T) {
	ctx := context.Background()
	s, rdb := newTestRedis(t)
	l := newTestRedisWindow(rdb, newFakeClock())

	l.Allow(ctx, "agent", domain.RateLimit{MaxRequests: 10, Window: 5 * time.Minute})
	l.Record(ctx, "agent")

	if ttl := s.TTL(infra.RateWindowKey("agent")); ttl < 4*time.Minute {
		t.Errorf("ttl = %v, shortened by Record", ttl)
	}
}

func TestRedisSlidingWindow_ConcurrentAllowNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	l := NewRedisSlidingWindow(rdb, time.Minute)
	limit := domain.RateLimit{MaxRequests: 50, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := l.Allow(ctx, "agent", limit); err == nil && ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50", allowed)
	}
}

func TestRedisSlidingWindow_BackendDown(t *testing.T) {
	s, rdb := newTestRedis(t)
	l := NewRedisSlidingWindow(rdb, time.Minute)
	s.Close()

	if _, err := l.Allow(context.Background(), "agent", domain.RateLimit{MaxRequests: 1, Window: time.Minute}); err == nil {
		t.Fatal("expected error with redis down")
	}
	if err := l.Record(context.Background(), "agent"); err == nil {
		t.Fatal("expected error with redis down")
	}
}
