package audit

import (
	"context"
	"time"
)

// Store определяет, куда физически сохраняются записи.
// Append обязан быть идемпотентным по Record.ID: после неудачного flush пачка уходит повторно.
type Store interface {
	Append(ctx context.Context, records []Record) error
	// Query возвращает записи по фильтру, новые первыми. Limit <= 0 — без ограничения.
	Query(ctx context.Context, f Filter) ([]Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Filter — условия выборки. Пустые поля не фильтруют.
type Filter struct {
	Actor     string
	Action    string
	Category  Category
	Level     Level
	SessionID string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Match проверяет запись на соответствие фильтру (без учёта пагинации).
func (f Filter) Match(r Record) bool {
	if f.Actor != "" && r.Actor != f.Actor {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Level != "" && r.Level != f.Level {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
		return false
	}
	return true
}
