package command

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

// Cleaner — чистка журнала (audit.Logger.Cleanup), сама себя аудирует.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration, actor string) (int64, error)
}

// CleanupLogs — cleanupLogs: удаляет записи аудита старше N дней.
type CleanupLogs struct {
	cleaner     Cleaner
	defaultDays int
}

func NewCleanupLogs(c Cleaner, defaultDays int) *CleanupLogs {
	if defaultDays <= 0 {
		defaultDays = 90
	}
	return &CleanupLogs{cleaner: c, defaultDays: defaultDays}
}

func (*CleanupLogs) Name() string               { return domain.ActionCleanupLogs }
func (*CleanupLogs) Kind() domain.ActionKind    { return domain.KindSystemCommand }
func (*CleanupLogs) Impact() domain.ImpactLevel { return domain.ImpactHigh }
func (*CleanupLogs) Description() string        { return "Delete audit records older than N days" }
func (*CleanupLogs) AffectedServices() []string { return []string{"audit-store"} }

func (*CleanupLogs) Validate(p domain.Parameters) error {
	if _, present := p["days"]; !present {
		return nil
	}
	days, ok := p.Float("days")
	if !ok || days < 1 || days != float64(int(days)) {
		return domain.Invalid("days must be a positive integer")
	}
	return nil
}

func (c *CleanupLogs) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	days := c.defaultDays
	if d, ok := p.Float("days"); ok {
		days = int(d)
	}
	deleted, err := c.cleaner.Cleanup(ctx, time.Duration(days)*24*time.Hour, domain.ActorFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	return map[string]any{"days": days, "deleted": deleted}, nil
}
