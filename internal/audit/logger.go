package audit

/*
Файл logger.go реализует AuditLogger — журнал всех решений авторизации и результатов исполнения.

Ключевые особенности архитектуры:
- Единственный воркер владеет буфером pending. Запросы передают записи через канал,
  поэтому горячий путь не ждёт записи в БД.
- Batching: пачка уходит в хранилище по таймеру (FlushInterval) или при достижении BatchSize.
- Urgent Flush: записи уровня error/critical несут ack-канал, воркер сбрасывает буфер сразу
  и отвечает вызывающему. Окно потерь для них — ноль.
- At-least-once: при сбое хранилища пачка остаётся в начале буфера и уходит повторно на
  следующем тике. Хранилище обязано дедуплицировать по ID.
- Drain Pattern: Stop закрывает канал, воркер вычитывает остатки и делает финальный flush.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

// Config — параметры буферизации.
type Config struct {
	BufferSize         int
	BatchSize          int
	FlushInterval      time.Duration
	UrgentFlushTimeout time.Duration
	WriteTimeout       time.Duration
	Health             HealthThresholds
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.UrgentFlushTimeout <= 0 {
		c.UrgentFlushTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	c.Health = c.Health.withDefaults()
	return c
}

type envelope struct {
	rec Record
	ack chan error // nil для обычных записей
}

type Logger struct {
	ch       chan envelope
	flushReq chan chan error
	store    Store
	logger   *zap.Logger
	cfg      Config
	fill     prometheus.Gauge

	newID func() string
	now   func() time.Time

	// closeMu защищает отправку в ch от гонки с close(ch) в Stop
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// NewLogger создаёт журнал. fill — необязательный gauge заполненности буфера.
func NewLogger(store Store, cfg Config, fill prometheus.Gauge, logger *zap.Logger) *Logger {
	cfg = cfg.withDefaults()
	return &Logger{
		ch:       make(chan envelope, cfg.BufferSize),
		flushReq: make(chan chan error),
		store:    store,
		logger:   logger.With(zap.String("mod", "audit")),
		cfg:      cfg,
		fill:     fill,
		newID:    newRecordID,
		now:      time.Now,
	}
}

// newRecordID — UUIDv7: уникален и упорядочен по времени создания
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (l *Logger) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (l *Logger) Stop() {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	l.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(l.ch)
	l.closeMu.Unlock()

	l.wg.Wait()
	l.logger.Info("auditor stopped gracefully")
}

// LogAction добавляет запись и возвращает её ID. Ошибки записи наружу не отдаются.
func (l *Logger) LogAction(ctx context.Context, actor, action string, result any, opts Options) string {
	rec := Record{
		ID:          l.newID(),
		Actor:       actor,
		Action:      action,
		Input:       opts.Input,
		Result:      result,
		Category:    opts.Category,
		Level:       opts.Level,
		SessionID:   opts.SessionID,
		ExecutionID: opts.ExecutionID,
		Metadata:    opts.Metadata,
		Timestamp:   l.now().UTC(),
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}
	if rec.Category == "" {
		rec.Category = CategorySystem
	}
	if rec.SessionID == "" {
		rec.SessionID = domain.SessionFromContext(ctx)
	}

	l.sanitize(&rec)
	l.trace(rec)

	var ack chan error
	if rec.Level.IsUrgent() {
		ack = make(chan error, 1)
	}

	l.closeMu.RLock()
	if l.closed {
		l.closeMu.RUnlock()
		l.writeDirect(rec)
		return rec.ID
	}
	select {
	case l.ch <- envelope{rec: rec, ack: ack}:
	default:
		// Backpressure: не теряем запись, а ждём место в очереди
		l.logger.Warn("audit buffer saturated, blocking producer", zap.String("id", rec.ID))
		l.ch <- envelope{rec: rec, ack: ack}
	}
	l.closeMu.RUnlock()

	if ack != nil {
		select {
		case err := <-ack:
			if err != nil {
				l.logger.Warn("urgent audit flush failed, record kept for retry",
					zap.String("id", rec.ID), zap.Error(err))
			}
		case <-time.After(l.cfg.UrgentFlushTimeout):
			l.logger.Warn("urgent audit flush timed out, record kept for retry", zap.String("id", rec.ID))
		}
	}
	return rec.ID
}

// Flush просит воркер немедленно сбросить буфер и ждёт результата.
func (l *Logger) Flush(ctx context.Context) error {
	l.closeMu.RLock()
	if l.closed {
		l.closeMu.RUnlock()
		return nil
	}
	ack := make(chan error, 1)
	select {
	case l.flushReq <- ack:
	case <-ctx.Done():
		l.closeMu.RUnlock()
		return ctx.Err()
	}
	l.closeMu.RUnlock()

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sanitize заменяет несериализуемые Result/Metadata описанием ошибки.
// Иначе запись навсегда застрянет в голове буфера и остановит запись всех следующих.
func (l *Logger) sanitize(rec *Record) {
	if _, err := json.Marshal(rec.Result); err != nil {
		l.logger.Error("audit result is not serializable, replaced",
			zap.String("id", rec.ID), zap.String("type", fmt.Sprintf("%T", rec.Result)), zap.Error(err))
		rec.Result = map[string]any{"unserializable": fmt.Sprintf("%T", rec.Result), "error": err.Error()}
	}
	if _, err := json.Marshal(rec.Metadata); err != nil {
		l.logger.Error("audit metadata is not serializable, replaced", zap.String("id", rec.ID), zap.Error(err))
		rec.Metadata = map[string]any{"unserializable": "metadata", "error": err.Error()}
	}
}

// trace — синхронный локальный след каждой записи для операционной видимости
func (l *Logger) trace(rec Record) {
	fields := []zap.Field{
		zap.String("id", rec.ID),
		zap.String("actor", rec.Actor),
		zap.String("action", rec.Action),
		zap.String("category", string(rec.Category)),
		zap.String("level", string(rec.Level)),
		zap.String("session_id", rec.SessionID),
		zap.String("execution_id", rec.ExecutionID),
	}
	switch rec.Level {
	case LevelWarning:
		l.logger.Warn("audit", fields...)
	case LevelError, LevelCritical:
		l.logger.Error("audit", fields...)
	default:
		l.logger.Info("audit", fields...)
	}
}

// writeDirect — запись после остановки воркера, минуя буфер
func (l *Logger) writeDirect(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()
	if err := l.store.Append(ctx, []Record{rec}); err != nil {
		l.logger.Error("audit write after stop failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()

	pending := make([]Record, 0, l.cfg.BatchSize)
	failing := false
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		// Используем Background, так как контекст запроса может быть уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
		err := l.store.Append(ctx, pending)
		cancel()
		if err != nil {
			// Пачка остаётся в начале буфера, новые записи встают за ней
			failing = true
			l.logger.Error("audit flush failed, batch kept for retry",
				zap.Int("pending", len(pending)), zap.Error(err))
			return fmt.Errorf("%w: %v", domain.ErrAuditWrite, err)
		}
		failing = false
		pending = make([]Record, 0, l.cfg.BatchSize)
		return nil
	}

	observe := func() {
		if l.fill != nil {
			l.fill.Set(float64(len(pending)))
		}
	}

	for {
		select {
		case env, ok := <-l.ch:
			if !ok {
				// Канал закрыт в Stop: всё, что было в очереди, уже вычитано
				l.finalFlush(flush)
				observe()
				l.logger.Info("audit worker finished")
				return
			}
			pending = append(pending, env.rec)
			switch {
			case env.ack != nil:
				env.ack <- flush()
			case len(pending) >= l.cfg.BatchSize && !failing:
				_ = flush()
			}
			observe()
		case ack := <-l.flushReq:
			// Flush должен захватить всё, что LogAction уже положил в канал
			urgent := drain(l.ch, &pending)
			err := flush()
			for _, u := range urgent {
				u <- err
			}
			ack <- err
			observe()
		case <-ticker.C:
			_ = flush()
			observe()
		}
	}
}

// drain без блокировки вычитывает очередь в pending и возвращает ack-каналы срочных записей.
// Закрытый канал не трогаем: остаток заберёт основной цикл и сделает финальный flush.
func drain(ch <-chan envelope, pending *[]Record) []chan error {
	var urgent []chan error
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return urgent
			}
			*pending = append(*pending, env.rec)
			if env.ack != nil {
				urgent = append(urgent, env.ack)
			}
		default:
			return urgent
		}
	}
}

func (l *Logger) finalFlush(flush func() error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = flush(); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	l.logger.Error("final audit flush failed, records lost", zap.Error(err))
}
