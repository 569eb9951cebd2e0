package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
)

// Проверка и запись в одном Lua-скрипте: два инстанса шлюза не смогут
// одновременно увидеть «лимит не превышен» и пропустить лишний запрос.
// KEYS[1]: окно субъекта; ARGV: now_ms, window_cutoff_ms, max (-1: без проверки), member,
// ttl_ms, prune_cutoff_ms.
// Чистим по ttl (самое длинное окно), считаем по окну политики.
// TTL ключа только растет, чтобы запись с коротким окном не укоротила длинное.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[6])
if limit >= 0 and redis.call('ZCOUNT', key, '(' .. ARGV[2], '+inf') >= limit then
  return 0
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
if redis.call('PTTL', key) < tonumber(ARGV[5]) then
  redis.call('PEXPIRE', key, ARGV[5])
end
return 1
`)

// RedisSlidingWindow — распределенный вариант лимитера: окно живет в sorted set,
// score — время запроса в миллисекундах. Общий для всех инстансов шлюза.
type RedisSlidingWindow struct {
	rdb       *redis.Client
	base      time.Duration
	retention atomic.Int64 // наносекунды; не меньше самого длинного окна политик

	now func() time.Time
}

func NewRedisSlidingWindow(rdb *redis.Client, retention time.Duration) *RedisSlidingWindow {
	if retention <= 0 {
		retention = defaultRetention
	}
	l := &RedisSlidingWindow{
		rdb:  rdb,
		base: retention,
		now:  time.Now,
	}
	l.retention.Store(int64(retention))
	return l
}

// SetRetention вызывается Store при каждой смене набора политик
func (l *RedisSlidingWindow) SetRetention(d time.Duration) {
	l.retention.Store(int64(max(d, l.base)))
}

func (l *RedisSlidingWindow) Allow(ctx context.Context, key string, limit domain.RateLimit) (bool, error) {
	return l.run(ctx, key, limit.Window, limit.MaxRequests)
}

func (l *RedisSlidingWindow) Record(ctx context.Context, key string) error {
	_, err := l.run(ctx, key, 0, -1)
	return err
}

func (l *RedisSlidingWindow) run(ctx context.Context, key string, window time.Duration, maxRequests int) (bool, error) {
	ttl := max(window, time.Duration(l.retention.Load()))
	now := l.now().UnixMilli()

	// cutoff исключающий: метка с now - t >= window уже вне окна
	res, err := windowScript.Run(ctx, l.rdb, []string{infra.RateWindowKey(key)},
		now,
		now-window.Milliseconds(),
		maxRequests,
		uuid.NewString(), // уникальный member, иначе два запроса в одну мс схлопнутся
		ttl.Milliseconds(),
		now-ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate window: %w", err)
	}
	return res == 1, nil
}
