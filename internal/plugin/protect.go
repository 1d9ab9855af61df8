package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-governor/internal/connectors"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProtectConfig — настройки защиты внешних вызовов.
type ProtectConfig struct {
	MaxRequests    uint32
	Interval       time.Duration
	Timeout        time.Duration // время, через которое CB попробует «закрыться»
	Failures       uint32        // подряд идущих ошибок до размыкания
	RateLimit      float64
	RateBurst      int
	Attempts       uint
	AttemptTimeout time.Duration
	// OnStateChange — необязательный хук для метрик
	OnStateChange func(name string, from, to gobreaker.State)
}

// Protected оборачивает Capability: Rate Limiter → Circuit Breaker → Retry с таймаутом попытки.
type Protected struct {
	Capability
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	attempt  time.Duration
	logger   *zap.Logger
}

func Protect(c Capability, cfg ProtectConfig, logger *zap.Logger) *Protected {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	failures := cfg.Failures
	if failures == 0 {
		failures = 5
	}
	log := logger.With(zap.String("mod", "protect"), zap.String("capability", c.Name()))

	settings := gobreaker.Settings{
		Name:        c.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Ошибки валидации — проблема запроса, а не апстрима
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrValidation)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	return &Protected{
		Capability: c,
		cb:         gobreaker.NewCircuitBreaker(settings),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		attempts:   cfg.Attempts,
		attempt:    cfg.AttemptTimeout,
		logger:     log,
	}
}

// State — текущее состояние предохранителя.
func (p *Protected) State() gobreaker.State {
	return p.cb.State()
}

func (p *Protected) Execute(ctx context.Context, params domain.Parameters) (any, error) {
	// 1. Rate Limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", domain.ErrExecution, err)
	}

	// 2. Circuit Breaker
	out, err := p.cb.Execute(func() (interface{}, error) {
		var result any
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(p.attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, domain.ErrValidation)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Апстрим сам сказал, сколько ждать (Retry-After)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, p.attempt)
			defer cancel()

			var callErr error
			result, callErr = p.Capability.Execute(tCtx, params)
			if callErr != nil {
				p.logger.Debug("external call attempt failed", zap.Error(callErr))
			}
			return callErr
		})
		return result, retryErr
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s unavailable: %v", domain.ErrExecution, p.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
