package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
)

// RateLimiter — счетчик запросов субъекта в скользящем окне.
// Allow атомарно проверяет лимит и, если он не превышен, фиксирует запрос.
// Record фиксирует запрос без проверки (разрешение по политике без лимита).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit domain.RateLimit) (bool, error)
	Record(ctx context.Context, key string) error
}

// RetentionSetter: лимитер, которому нужно знать самое длинное окно активных
// политик. Метки моложе этого окна удалять нельзя: на один субъект приходятся
// политики с разными окнами, и запись через Record учитывается в каждом из них.
type RetentionSetter interface {
	SetRetention(d time.Duration)
}

// defaultRetention — нижняя граница хранения меток, пока ни одна политика
// с лимитом не сообщила свое окно
const defaultRetention = time.Minute

type window struct {
	mu     sync.Mutex
	stamps []time.Time // неубывающая последовательность
}

// prune удаляет метки, выпавшие из окна (now - t >= span). Только «лениво», при обращении.
func (w *window) prune(now time.Time, span time.Duration) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= span {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// count: число меток в окне span (now - t < span), метки упорядочены
func (w *window) count(now time.Time, span time.Duration) int {
	i := sort.Search(len(w.stamps), func(i int) bool {
		return now.Sub(w.stamps[i]) < span
	})
	return len(w.stamps) - i
}

// push добавляет метку, не нарушая порядок при скачке часов назад
func (w *window) push(now time.Time) {
	if n := len(w.stamps); n > 0 && now.Before(w.stamps[n-1]) {
		now = w.stamps[n-1]
	}
	w.stamps = append(w.stamps, now)
}

// SlidingWindow — in-memory лимитер для одного инстанса.
// Разные субъекты не делят блокировку, внутри субъекта check+record сериализованы.
type SlidingWindow struct {
	mu        sync.Mutex // защищает только карту окон и retention
	windows   map[string]*window
	retention time.Duration // не меньше самого длинного окна активных политик

	now func() time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		windows:   make(map[string]*window),
		retention: defaultRetention,
		now:       time.Now,
	}
}

func (l *SlidingWindow) window(key string, span time.Duration) (*window, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if span > l.retention {
		l.retention = span
	}
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w, l.retention
}

// SetRetention вызывается Store при каждой смене набора политик
func (l *SlidingWindow) SetRetention(d time.Duration) {
	l.mu.Lock()
	l.retention = max(d, defaultRetention)
	l.mu.Unlock()
}

func (l *SlidingWindow) Allow(_ context.Context, key string, limit domain.RateLimit) (bool, error) {
	w, retention := l.window(key, limit.Window)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Удаляем только то, что старше любого окна: более короткое окно этой политики
	// не должно стирать метки, которые еще учитывает политика с длинным окном
	now := l.now()
	w.prune(now, retention)
	if w.count(now, limit.Window) >= limit.MaxRequests {
		return false, nil
	}
	w.push(now)
	return true, nil
}

func (l *SlidingWindow) Record(_ context.Context, key string) error {
	w, retention := l.window(key, 0)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, retention)
	w.push(now)
	return nil
}

// Count — текущее число меток субъекта в окне span (для тестов и диагностики)
func (l *SlidingWindow) Count(key string, span time.Duration) int {
	w, _ := l.window(key, 0)

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.count(l.now(), span)
}
