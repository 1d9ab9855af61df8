package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

const (
	historyCap  = 100
	historyKeep = 50

	DefaultTimeout = 30 * time.Second
)

// ErrDuplicate — имя уже занято.
var ErrDuplicate = errors.New("capability already registered")

// Registry — таблица имя → Capability. Чтения конкурентные, регистрация сериализуется.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability

	histMu  sync.Mutex
	history []domain.ExecutionResult

	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry — name используется только в логах ("plugins", "commands").
func NewRegistry(name string, timeout time.Duration, logger *zap.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		caps:    make(map[string]Capability),
		history: make([]domain.ExecutionResult, 0, historyCap),
		timeout: timeout,
		logger:  logger.With(zap.String("mod", name)),
		now:     time.Now,
	}
}

func (r *Registry) Register(c Capability) error {
	if c == nil || c.Name() == "" {
		return domain.Invalid("capability without name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name())
	}
	r.caps[c.Name()] = c
	r.logger.Info("capability registered",
		zap.String("name", c.Name()),
		zap.String("kind", string(c.Kind())),
		zap.String("impact", string(c.Impact())),
	)
	return nil
}

// MustRegister — для регистрации встроенных возможностей при старте.
func (r *Registry) MustRegister(caps ...Capability) {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// All — каталог, отсортированный по имени.
func (r *Registry) All() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, InfoOf(c))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type outcome struct {
	output any
	err    error
}

// ExecuteAction валидирует параметры и исполняет возможность с таймаутом.
// Ошибки не пробрасываются: любой исход — это ExecutionResult с кодом причины.
func (r *Registry) ExecuteAction(ctx context.Context, name string, params domain.Parameters, executionID string) domain.ExecutionResult {
	start := r.now()
	res := r.execute(ctx, name, params, executionID)
	res.Timestamp = r.now().UTC()
	res.DurationMs = time.Since(start).Milliseconds()
	r.remember(res)

	if res.Success {
		r.logger.Info("action executed",
			zap.String("action", name),
			zap.String("execution_id", executionID),
			zap.Int64("duration_ms", res.DurationMs))
	} else {
		r.logger.Warn("action failed",
			zap.String("action", name),
			zap.String("execution_id", executionID),
			zap.String("reason", string(res.Reason)),
			zap.String("error", res.Error))
	}
	return res
}

func (r *Registry) execute(ctx context.Context, name string, params domain.Parameters, executionID string) domain.ExecutionResult {
	c, ok := r.Lookup(name)
	if !ok {
		err := domain.NewActionError(name, domain.ReasonNotFound, domain.ErrUnknownAction)
		return domain.FailedResult(name, executionID, err, time.Time{})
	}

	if err := c.Validate(params); err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			err = fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return domain.FailedResult(name, executionID, err, time.Time{})
	}

	tCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Буфер 1: горутина не зависнет, если результат уже никто не ждёт
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("capability panicked", zap.String("action", name), zap.Any("panic", p))
				done <- outcome{err: fmt.Errorf("%w: panic: %v", domain.ErrExecution, p)}
			}
		}()
		out, err := c.Execute(tCtx, params)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return domain.FailedResult(name, executionID, classify(name, o.err), time.Time{})
		}
		return domain.ExecutionResult{Action: name, Success: true, Output: o.output, ExecutionID: executionID}
	case <-tCtx.Done():
		err := domain.NewActionError(name, domain.ReasonTimeout,
			fmt.Errorf("%w after %s", domain.ErrTimeout, r.timeout))
		if !errors.Is(tCtx.Err(), context.DeadlineExceeded) {
			err = domain.NewActionError(name, domain.ReasonExecutionFailed, tCtx.Err())
		}
		return domain.FailedResult(name, executionID, err, time.Time{})
	}
}

// classify приводит ошибку возможности к таксономии
func classify(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewActionError(name, domain.ReasonTimeout, fmt.Errorf("%w: %v", domain.ErrTimeout, err))
	}
	return err
}

func (r *Registry) remember(res domain.ExecutionResult) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history = append(r.history, res)
	if len(r.history) > historyCap {
		kept := make([]domain.ExecutionResult, historyKeep, historyCap)
		copy(kept, r.history[len(r.history)-historyKeep:])
		r.history = kept
	}
}

// History — копия последних результатов, старые первыми.
func (r *Registry) History() []domain.ExecutionResult {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	out := make([]domain.ExecutionResult, len(r.history))
	copy(out, r.history)
	return out
}
