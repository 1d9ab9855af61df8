package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Page — страница результатов Query.
type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// Query возвращает записи по фильтру, новые первыми.
func (l *Logger) Query(ctx context.Context, f Filter) (Page, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	total, err := l.store.Count(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("count audit records: %w", err)
	}
	records, err := l.store.Query(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("query audit records: %w", err)
	}
	return Page{
		Records: records,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(records) < total,
	}, nil
}

// Export отдаёт все записи по фильтру без пагинации. Буфер предварительно сбрасывается.
func (l *Logger) Export(ctx context.Context, f Filter) ([]Record, error) {
	if err := l.Flush(ctx); err != nil {
		l.logger.Warn("export: pending records not flushed", zap.Error(err))
	}
	f.Limit, f.Offset = 0, 0
	records, err := l.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("export audit records: %w", err)
	}
	return records, nil
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Stats — агрегаты за окно времени.
type Stats struct {
	Window         string           `json:"window"`
	Total          int              `json:"total"`
	ByCategory     map[Category]int `json:"by_category"`
	ByLevel        map[Level]int    `json:"by_level"`
	ByActor        map[string]int   `json:"by_actor"`
	TopActions     []ActionCount    `json:"top_actions"`
	RecentActivity []Record         `json:"recent_activity"`
}

const (
	topActionsLimit = 10
	recentLimit     = 10
)

func (l *Logger) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	records, err := l.store.Query(ctx, Filter{From: l.now().Add(-window)})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	st := Stats{
		Window:     window.String(),
		Total:      len(records),
		ByCategory: make(map[Category]int),
		ByLevel:    make(map[Level]int),
		ByActor:    make(map[string]int),
	}
	actions := make(map[string]int)
	for _, r := range records {
		st.ByCategory[r.Category]++
		st.ByLevel[r.Level]++
		st.ByActor[r.Actor]++
		actions[r.Action]++
	}

	st.TopActions = make([]ActionCount, 0, len(actions))
	for a, n := range actions {
		st.TopActions = append(st.TopActions, ActionCount{Action: a, Count: n})
	}
	sort.Slice(st.TopActions, func(i, j int) bool {
		if st.TopActions[i].Count != st.TopActions[j].Count {
			return st.TopActions[i].Count > st.TopActions[j].Count
		}
		return st.TopActions[i].Action < st.TopActions[j].Action
	})
	if len(st.TopActions) > topActionsLimit {
		st.TopActions = st.TopActions[:topActionsLimit]
	}

	// Query уже отсортирован: новые первыми
	n := min(len(records), recentLimit)
	st.RecentActivity = records[:n]
	return st, nil
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthThresholds — пороги SystemHealth.
type HealthThresholds struct {
	WarningErrorRate    float64
	CriticalErrorRate   float64
	CriticalEventsLimit int
}

func (h HealthThresholds) withDefaults() HealthThresholds {
	if h.WarningErrorRate <= 0 {
		h.WarningErrorRate = 0.05
	}
	if h.CriticalErrorRate <= 0 {
		h.CriticalErrorRate = 0.2
	}
	if h.CriticalEventsLimit <= 0 {
		h.CriticalEventsLimit = 5
	}
	return h
}

type Health struct {
	Status         HealthStatus `json:"status"`
	TotalEvents    int          `json:"total_events"`
	ErrorRate      float64      `json:"error_rate"`
	CriticalEvents int          `json:"critical_events"`
	Issues         []string     `json:"issues"`
	CheckedAt      time.Time    `json:"checked_at"`
}

func (h *Health) raise(s HealthStatus, issue string) {
	if s == HealthCritical || h.Status == HealthHealthy {
		h.Status = s
	}
	h.Issues = append(h.Issues, issue)
}

// SystemHealth оценивает последние 24 часа. Недоступное хранилище — critical, а не ошибка.
func (l *Logger) SystemHealth(ctx context.Context) (Health, error) {
	now := l.now()
	th := l.cfg.Health
	h := Health{Status: HealthHealthy, Issues: []string{}, CheckedAt: now.UTC()}

	day := now.Add(-24 * time.Hour)
	total, err := l.store.Count(ctx, Filter{From: day})
	if err != nil {
		h.raise(HealthCritical, fmt.Sprintf("audit store unavailable: %v", err))
		return h, nil
	}
	errs, err := l.store.Count(ctx, Filter{From: day, Level: LevelError})
	if err != nil {
		h.raise(HealthCritical, fmt.Sprintf("audit store unavailable: %v", err))
		return h, nil
	}
	crit, err := l.store.Count(ctx, Filter{From: day, Level: LevelCritical})
	if err != nil {
		h.raise(HealthCritical, fmt.Sprintf("audit store unavailable: %v", err))
		return h, nil
	}
	lastHour, err := l.store.Count(ctx, Filter{From: now.Add(-time.Hour)})
	if err != nil {
		h.raise(HealthCritical, fmt.Sprintf("audit store unavailable: %v", err))
		return h, nil
	}

	h.TotalEvents = total
	h.CriticalEvents = crit
	if total > 0 {
		h.ErrorRate = float64(errs+crit) / float64(total)
	}

	switch {
	case h.ErrorRate > th.CriticalErrorRate:
		h.raise(HealthCritical, fmt.Sprintf("error rate %.1f%% exceeds critical threshold %.1f%%",
			h.ErrorRate*100, th.CriticalErrorRate*100))
	case h.ErrorRate > th.WarningErrorRate:
		h.raise(HealthWarning, fmt.Sprintf("error rate %.1f%% exceeds warning threshold %.1f%%",
			h.ErrorRate*100, th.WarningErrorRate*100))
	}
	switch {
	case crit >= th.CriticalEventsLimit:
		h.raise(HealthCritical, fmt.Sprintf("%d critical events in the last 24 hours", crit))
	case crit > 0:
		h.raise(HealthWarning, fmt.Sprintf("%d critical events in the last 24 hours", crit))
	}
	if lastHour == 0 {
		h.raise(HealthWarning, "no activity in the last hour")
	}
	return h, nil
}

// Cleanup удаляет записи старше olderThan. Сама очистка попадает в журнал.
func (l *Logger) Cleanup(ctx context.Context, olderThan time.Duration, actor string) (int64, error) {
	if olderThan <= 0 {
		return 0, domain.Invalid("retention must be positive, got %s", olderThan)
	}
	cutoff := l.now().Add(-olderThan).UTC()
	deleted, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		l.LogAction(ctx, actor, ActionRetentionCleanup, map[string]any{"error": err.Error()}, Options{
			Category: CategoryRetention,
			Level:    LevelError,
			Metadata: map[string]any{"cutoff": cutoff},
		})
		return 0, fmt.Errorf("cleanup audit records: %w", err)
	}

	l.LogAction(ctx, actor, ActionRetentionCleanup, map[string]any{"deleted": deleted}, Options{
		Category: CategoryRetention,
		Level:    LevelWarning,
		Metadata: map[string]any{"cutoff": cutoff, "retention": olderThan.String()},
	})
	l.logger.Info("audit retention cleanup", zap.String("actor", actor),
		zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	return deleted, nil
}
