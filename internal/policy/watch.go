package policy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Паузы между попытками подписки
var (
	subscribeRetryDelay = 5 * time.Second
	resubscribeDelay    = time.Second
)

// Watch — «живучая» подписка на канал обновления политик.
// Консоль публикует в канал сигнал после изменения политик, все инстансы шлюза
// перечитывают набор. При каждой (пере)подписке делаем синхронизацию,
// чтобы не потерять сигналы, пришедшие пока подписки не было.
func Watch(ctx context.Context, rdb *redis.Client, logger *zap.Logger, channel string, reload func(ctx context.Context) error) {
	logger = logger.Named("policy-watch")

	for {
		pubsub := rdb.Subscribe(ctx, channel)
		// Receive не прерывается отменой контекста, закрываем подписку сами
		stop := context.AfterFunc(ctx, func() { pubsub.Close() })

		if _, err := pubsub.Receive(ctx); err != nil {
			stop()
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, subscribeRetryDelay) {
				return
			}
			continue
		}

		logger.Info("subscribed", zap.String("chan", channel))
		if err := reload(ctx); err != nil {
			logger.Error("sync failed on subscribe", zap.Error(err))
		}

		err := receive(ctx, pubsub, logger, reload)
		stop()
		pubsub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("subscription lost, resubscribing", zap.Error(err))
		if !sleepCtx(ctx, resubscribeDelay) {
			return
		}
	}
}

// receive обрабатывает сообщения до первой ошибки соединения
func receive(ctx context.Context, pubsub *redis.PubSub, logger *zap.Logger, reload func(ctx context.Context) error) error {
	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			return err
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			continue // подтверждения подписки и pong
		}
		logger.Info("policy update signal", zap.String("payload", m.Payload))
		if err := reload(ctx); err != nil {
			logger.Error("policy reload failed", zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
