package audit

/*
AgentFS: асинхронный пакетный журнал событий безопасности (audit trail).

- Send не блокирует конвейер: событие кладется в буферизованный канал,
  при переполнении сбрасывается с ошибкой (load shedding).
- Воркер копит пачку и пишет ее одним вызовом WriteBatch по таймеру
  или при достижении размера пачки.
- Stop закрывает вход и дожидается финального flush (drain), поэтому
  при штатной остановке накопленные события не теряются.

Одна реализация обслуживает разные хранилища: Postgres, ClickHouse.
*/

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrBufferFull = errors.New("audit buffer is full")
	ErrStopped    = errors.New("auditor is stopped")
)

const (
	defaultBufferSize    = 10000
	defaultFlushInterval = 500 * time.Millisecond
	defaultBatchSize     = 100
	flushTimeout         = 5 * time.Second
)

// BatchWriter: куда физически пишутся события
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []domain.SecurityEvent) error
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	return o
}

type AgentFS struct {
	name string
	ch   chan domain.SecurityEvent
	repo BatchWriter
	opts Options

	mu     sync.RWMutex // Send под RLock, Stop под Lock: запись в закрытый канал невозможна
	closed bool

	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewAgentFS(name string, repo BatchWriter, opts Options, logger *zap.Logger) *AgentFS {
	opts = opts.withDefaults()
	return &AgentFS{
		name:   name,
		ch:     make(chan domain.SecurityEvent, opts.BufferSize),
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("mod", "agentfs"), zap.String("sink", name)),
	}
}

func (fs *AgentFS) Name() string { return fs.name }

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop запирает вход и ждет, пока воркер допишет остатки
func (fs *AgentFS) Stop() {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return
	}
	fs.closed = true
	close(fs.ch)
	fs.mu.Unlock()

	fs.logger.Info("stopping auditor: flushing buffer")
	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

// Send ставит событие в очередь. Сама запись происходит позже, в воркере,
// поэтому ctx здесь не используется.
func (fs *AgentFS) Send(_ context.Context, event domain.SecurityEvent) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return ErrStopped
	}

	select {
	case fs.ch <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]domain.SecurityEvent, 0, fs.opts.BatchSize)
	ticker := time.NewTicker(fs.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Контекст запроса к этому моменту уже завершен, пишем со своим таймаутом
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		if err := fs.repo.WriteBatch(ctx, batch); err != nil {
			fs.logger.Error("audit flush failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				// канал закрыт в Stop: остатки уже вычитаны, финальный сброс
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= fs.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Pending: сколько событий ждут записи (для метрики заполненности буфера)
func (fs *AgentFS) Pending() float64 {
	return float64(len(fs.ch))
}
