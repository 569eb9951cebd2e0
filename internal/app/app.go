// Package app собирает шлюз из конфигурации: источники политик, лимитер,
// сканеры, аудит, SIEM-синки, медиатор и служебный API.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-tool-guard/internal/admin"
	"github.com/xela07ax/spaceai-tool-guard/internal/armor"
	"github.com/xela07ax/spaceai-tool-guard/internal/audit"
	"github.com/xela07ax/spaceai-tool-guard/internal/engine"
	"github.com/xela07ax/spaceai-tool-guard/internal/identity"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
	"github.com/xela07ax/spaceai-tool-guard/internal/policy"
	"github.com/xela07ax/spaceai-tool-guard/internal/repository/clickhouse"
	"github.com/xela07ax/spaceai-tool-guard/internal/repository/postgres"
	"github.com/xela07ax/spaceai-tool-guard/internal/siem"
	"github.com/xela07ax/spaceai-tool-guard/internal/threat"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const tracerName = "github.com/xela07ax/spaceai-tool-guard"

// App: собранный шлюз. Mediator: точка входа для встраивающего кода,
// Admin: служебный HTTP API.
type App struct {
	Mediator *engine.Mediator
	Store    *policy.Store
	Admin    http.Handler

	cfg     *infra.Config
	rdb     *redis.Client
	pool    *pgxpool.Pool
	ch      *clickhouse.EventRepo
	writers []*audit.AgentFS
	logger  *zap.Logger
}

func New(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// 1. Метрики (приватный реестр, как и у остальных сервисов)
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	// 2. Внешние хранилища: только те, что реально нужны конфигу
	if cfg.RateLimit.Backend == "redis" || cfg.Policy.Watch {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}

	// 3. Политики
	a.Store = policy.NewStore(a.policySource(), logger)
	if err := a.Store.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial policy load: %w", err)
	}

	var limiter policy.RateLimiter = policy.NewSlidingWindow()
	if cfg.RateLimit.Backend == "redis" {
		limiter = policy.NewRedisSlidingWindow(a.rdb, cfg.RateLimit.Retention)
	}
	evaluator := policy.NewEvaluator(a.Store, limiter, logger)

	// 4. SIEM-синки
	sinks, err := a.sinks(ctx, metrics)
	if err != nil {
		return nil, err
	}
	manager := siem.NewManager(sinks, cfg.SIEM.EmitTimeout, metrics, logger)

	// 5. Ядро
	a.Mediator = engine.NewMediator(
		evaluator,
		threat.NewInjectionScanner(),
		armor.NewScanner(),
		audit.NewRecorder(otel.Tracer(tracerName)),
		manager,
		metrics,
		engine.Options{RedactOutput: cfg.Engine.RedactOutput},
		logger,
	)

	// 6. Служебный API
	var validator *identity.Validator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := identity.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("auth public key: %w", err)
		}
		validator = identity.NewValidator(pub)
	}
	a.Admin = admin.NewServer(reg, validator, admin.NewPolicyHandler(a.Store, a.reload, logger), logger)

	ok = true
	return a, nil
}

func (a *App) policySource() policy.Source {
	switch a.cfg.Policy.Source {
	case "file":
		return policy.FileSource{Path: a.cfg.Policy.File}
	case "postgres":
		return postgres.NewPolicyRepo(a.pool)
	default:
		return policy.DefaultSource{}
	}
}

func (a *App) sinks(ctx context.Context, metrics *infra.Metrics) ([]siem.Sink, error) {
	cfg := a.cfg.SIEM
	opts := siem.DeliveryOptionsFromConfig(cfg)
	client := &http.Client{Timeout: cfg.RequestTimeout}

	sinks := []siem.Sink{siem.NewLogSink(a.logger)}

	// HTTP-коннекторы включаются наличием endpoint
	if cfg.Chronicle.Endpoint != "" {
		d := siem.NewDelivery("chronicle", client, opts, metrics, a.logger)
		sinks = append(sinks, siem.NewChronicle(cfg.Chronicle.Endpoint, d, a.logger))
	}
	if cfg.Splunk.Endpoint != "" {
		d := siem.NewDelivery("splunk", client, opts, metrics, a.logger)
		sinks = append(sinks, siem.NewSplunk(cfg.Splunk.Endpoint, cfg.Splunk.Token, cfg.Splunk.Host, d, a.logger))
	}
	if cfg.Elastic.Endpoint != "" {
		d := siem.NewDelivery("elastic", client, opts, metrics, a.logger)
		sinks = append(sinks, siem.NewElastic(cfg.Elastic.Endpoint, d, a.logger))
	}

	// Пакетные журналы: ClickHouse для аналитики, Postgres для audit trail
	bufOpts := audit.Options{
		BufferSize:    a.cfg.Engine.AuditBufferSize,
		FlushInterval: a.cfg.Engine.AuditFlushInterval,
	}
	if cfg.ClickHouse.DSN != "" {
		repo, err := clickhouse.Open(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, err
		}
		a.ch = repo
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, a.batched("clickhouse", repo, bufOpts, metrics))
	}
	if a.pool != nil {
		sinks = append(sinks, a.batched("postgres", postgres.NewEventRepo(a.pool), bufOpts, metrics))
	}
	return sinks, nil
}

func (a *App) batched(name string, repo audit.BatchWriter, opts audit.Options, metrics *infra.Metrics) siem.Sink {
	w := audit.NewAgentFS(name, repo, opts, a.logger)
	w.Start()
	metrics.ObserveBuffer(name, w.Pending)
	a.writers = append(a.writers, w)
	return w
}

// reload перечитывает политики и оповещает остальные инстансы через Redis
func (a *App) reload(ctx context.Context) error {
	if err := a.Store.Refresh(ctx); err != nil {
		return err
	}
	if a.rdb != nil {
		if err := a.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "reload").Err(); err != nil {
			a.logger.Warn("failed to broadcast policy reload", zap.Error(err))
		}
	}
	return nil
}

// Run держит фоновые подписки до отмены ctx
func (a *App) Run(ctx context.Context) {
	if a.cfg.Policy.Watch && a.rdb != nil {
		policy.Watch(ctx, a.rdb, a.logger, infra.RedisChanPolicyUpdate, a.Store.Refresh)
	}
}

// Close останавливает журналы с финальным flush и закрывает соединения
func (a *App) Close() {
	for _, w := range a.writers {
		w.Stop()
	}
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Warn("clickhouse close", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
