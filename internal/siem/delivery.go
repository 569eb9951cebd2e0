package siem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottleError — бэкенд ответил 429, RetryAfter прочитан из заголовка Retry-After
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// StatusError — не-2xx ответ бэкенда
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// retryable: сетевые ошибки, 429 и 5xx. Остальные 4xx повторять бессмысленно.
func retryable(err error) bool {
	var te *ThrottleError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

type DeliveryOptions struct {
	RequestTimeout time.Duration
	RatePerSecond  float64
	Burst          int
	RetryAttempts  uint
	RetryDelay     time.Duration // база экспоненциального бэкоффа
	CBMaxRequests  uint32
	CBInterval     time.Duration
	CBTimeout      time.Duration
}

// DeliveryOptionsFromConfig переносит общие настройки надежности из конфига
func DeliveryOptionsFromConfig(cfg infra.SIEMConfig) DeliveryOptions {
	return DeliveryOptions{
		RequestTimeout: cfg.RequestTimeout,
		RatePerSecond:  cfg.RatePerSecond,
		Burst:          cfg.Burst,
		RetryAttempts:  cfg.RetryAttempts,
		CBMaxRequests:  cfg.CBMaxRequests,
		CBInterval:     cfg.CBInterval,
		CBTimeout:      cfg.CBTimeout,
	}
}

func (o DeliveryOptions) withDefaults() DeliveryOptions {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 3 * time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 100
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	if o.CBMaxRequests == 0 {
		o.CBMaxRequests = 3
	}
	if o.CBInterval <= 0 {
		o.CBInterval = 5 * time.Second
	}
	if o.CBTimeout <= 0 {
		o.CBTimeout = 30 * time.Second
	}
	return o
}

// Delivery — надежная HTTP-отправка для одного коннектора:
// rate limiter -> circuit breaker -> retry с бэкоффом.
type Delivery struct {
	name    string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    DeliveryOptions
	logger  *zap.Logger
}

func NewDelivery(name string, client *http.Client, opts DeliveryOptions, metrics *infra.Metrics, logger *zap.Logger) *Delivery {
	opts = opts.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	logger = logger.With(zap.String("mod", "delivery"), zap.String("sink", name))

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд: открываемся, бэкенд лежит
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})

	return &Delivery{
		name:    name,
		client:  client,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		logger:  logger,
	}
}

// Post отправляет JSON-тело. Повторы идут внутри одного вызова предохранителя,
// так что серия неудачных попыток считается им одной ошибкой.
func (d *Delivery) Post(ctx context.Context, url string, header http.Header, body []byte) error {
	// 1. Rate Limiter
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	_, err := d.cb.Execute(func() (interface{}, error) {
		// 3. Retry
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(d.opts.RetryAttempts),
			retry.Delay(d.opts.RetryDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(retryable),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Бэкенд сам сказал, когда приходить (Retry-After)
				var tErr *ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг, 500-ка): экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)
		return nil, r.Do(func() error {
			return d.post(ctx, url, header, body)
		})
	})
	return err
}

func (d *Delivery) post(ctx context.Context, url string, header http.Header, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", d.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: string(msg)}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &ThrottleError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), Cause: statusErr}
	}
	return statusErr
}

// parseRetryAfter понимает оба формата заголовка: секунды и HTTP-дату
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
