// Package permission — PermissionGate: кто какие действия может исполнять и кто может это менять.
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/risk"
	"go.uber.org/zap"
)

const (
	checksCap  = 1000
	checksKeep = 500
)

// Check — запись локального кольцевого буфера проверок (не путать с аудитом).
type Check struct {
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Allowed   bool      `json:"allowed"`
	Timestamp time.Time `json:"timestamp"`
}

// Store — долговременное хранилище наборов прав (Postgres).
type Store interface {
	LoadPermissions(ctx context.Context) (map[string][]string, error)
	LoadUser(ctx context.Context, user string) ([]string, bool, error)
	SavePermissions(ctx context.Context, user string, permissions []string) error
}

// Notifier оповещает другие инстансы об изменении прав пользователя.
type Notifier interface {
	PermissionsChanged(ctx context.Context, user string) error
}

// Auditor — то, что нужно гейту от AuditLogger.
type Auditor interface {
	LogAction(ctx context.Context, actor, action string, result any, opts audit.Options) string
}

type Gate struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
	roles map[string]domain.Role

	checksMu sync.Mutex
	checks   []Check

	classifier *risk.Classifier
	store      Store
	notifier   Notifier
	auditor    Auditor
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Gate)

func WithStore(s Store) Option       { return func(g *Gate) { g.store = s } }
func WithNotifier(n Notifier) Option { return func(g *Gate) { g.notifier = n } }
func WithAuditor(a Auditor) Option   { return func(g *Gate) { g.auditor = a } }

func NewGate(roles map[string]domain.Role, classifier *risk.Classifier, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		users:      make(map[string]map[string]struct{}),
		roles:      roles,
		checks:     make([]Check, 0, checksCap),
		classifier: classifier,
		logger:     logger.Named("permission"),
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// IsAuthorized — есть ли у пользователя право на действие. Неизвестный пользователь — отказ.
func (g *Gate) IsAuthorized(user, action string) bool {
	g.mu.RLock()
	perms, ok := g.users[user]
	allowed := false
	if ok {
		_, allowed = perms[action]
	}
	g.mu.RUnlock()

	g.recordCheck(Check{User: user, Action: action, Allowed: allowed, Timestamp: g.now().UTC()})
	if !allowed {
		g.logger.Warn("permission denied",
			zap.String("user", user),
			zap.String("action", action),
			zap.Bool("known_user", ok),
		)
	}
	return allowed
}

func (g *Gate) recordCheck(c Check) {
	g.checksMu.Lock()
	defer g.checksMu.Unlock()
	g.checks = append(g.checks, c)
	if len(g.checks) > checksCap {
		kept := make([]Check, checksKeep, checksCap)
		copy(kept, g.checks[len(g.checks)-checksKeep:])
		g.checks = kept
	}
}

// Checks — копия буфера проверок, старые первыми.
func (g *Gate) Checks() []Check {
	g.checksMu.Lock()
	defer g.checksMu.Unlock()
	out := make([]Check, len(g.checks))
	copy(out, g.checks)
	return out
}

// HasRole — набор прав пользователя включает все права роли.
func (g *Gate) HasRole(user, role string) bool {
	r, ok := g.roles[role]
	if !ok {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	perms, ok := g.users[user]
	if !ok {
		return false
	}
	for _, p := range r.Permissions {
		if _, has := perms[p]; !has {
			return false
		}
	}
	return true
}

// Permissions — отсортированный набор прав пользователя.
func (g *Gate) Permissions(user string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	perms, ok := g.users[user]
	if !ok {
		return nil, false
	}
	return domain.SortedKeys(perms), true
}

// RequiresApproval и RiskLevel — статическая классификация, делегируется классификатору.
func (g *Gate) RequiresApproval(action string) bool {
	return g.classifier.RequiresApproval(action)
}

func (g *Gate) RiskLevel(action string) domain.ImpactLevel {
	return g.classifier.RiskLevel(action)
}

// GrantPermission добавляет право. grantedBy обязан иметь роль super_admin.
func (g *Gate) GrantPermission(ctx context.Context, user, action, grantedBy string) bool {
	if !g.authorizeMutation(ctx, "grant", user, action, grantedBy) {
		return false
	}
	perms, _ := g.mutate(user, true, func(set map[string]struct{}) map[string]struct{} {
		set[action] = struct{}{}
		return set
	})
	g.afterMutation(ctx, "grant", user, action, grantedBy, perms)
	return true
}

// RevokePermission убирает право. Пользователь без записи остаётся без записи.
func (g *Gate) RevokePermission(ctx context.Context, user, action, revokedBy string) bool {
	if !g.authorizeMutation(ctx, "revoke", user, action, revokedBy) {
		return false
	}
	perms, ok := g.mutate(user, false, func(set map[string]struct{}) map[string]struct{} {
		delete(set, action)
		return set
	})
	if !ok {
		// нечего сохранять и рассылать: фиксируем только сам запрос
		g.logger.Info("revoke for unknown user, nothing to change",
			zap.String("user", user), zap.String("target", action), zap.String("by", revokedBy))
		g.auditChange(ctx, "revoke", user, action, revokedBy, nil)
		return true
	}
	g.afterMutation(ctx, "revoke", user, action, revokedBy, perms)
	return true
}

// AssignRole заменяет набор прав пользователя правами роли.
func (g *Gate) AssignRole(ctx context.Context, user, role, assignedBy string) bool {
	r, ok := g.roles[role]
	if !ok {
		g.logger.Warn("assign unknown role", zap.String("user", user), zap.String("role", role),
			zap.String("by", assignedBy))
		return false
	}
	if !g.authorizeMutation(ctx, "assign_role", user, role, assignedBy) {
		return false
	}
	perms, _ := g.mutate(user, true, func(map[string]struct{}) map[string]struct{} {
		return roleSet(r)
	})
	g.afterMutation(ctx, "assign_role", user, role, assignedBy, perms)
	return true
}

// Bootstrap назначает роли при старте, без проверки прав и без аудита.
func (g *Gate) Bootstrap(assignments map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for user, role := range assignments {
		r, ok := g.roles[role]
		if !ok {
			return domain.Invalid("bootstrap: unknown role %q for user %q", role, user)
		}
		g.users[user] = roleSet(r)
	}
	return nil
}

// Load перечитывает все наборы из Store. Загруженное перекрывает bootstrap.
func (g *Gate) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	all, err := g.store.LoadPermissions(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	for user, perms := range all {
		g.users[user] = toSet(perms)
	}
	g.mu.Unlock()
	g.logger.Info("permissions loaded", zap.Int("users", len(all)))
	return nil
}

// Refresh перечитывает одного пользователя (по сигналу от другого инстанса).
func (g *Gate) Refresh(ctx context.Context, user string) error {
	if g.store == nil {
		return nil
	}
	perms, ok, err := g.store.LoadUser(ctx, user)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if ok {
		g.users[user] = toSet(perms)
	} else {
		delete(g.users, user)
	}
	g.mu.Unlock()
	return nil
}

func (g *Gate) authorizeMutation(ctx context.Context, op, user, target, by string) bool {
	if g.HasRole(by, domain.RoleSuperAdmin) {
		return true
	}
	g.logger.Warn("unauthorized permission change attempt",
		zap.String("op", op),
		zap.String("user", user),
		zap.String("target", target),
		zap.String("by", by),
	)
	if g.auditor != nil {
		g.auditor.LogAction(ctx, by, "permission."+op, map[string]any{"allowed": false}, audit.Options{
			Category: audit.CategoryAuthorization,
			Level:    audit.LevelWarning,
			Metadata: map[string]any{"user": user, "target": target},
		})
	}
	return false
}

// mutate применяет изменение под блокировкой и возвращает новый отсортированный набор.
// Без create отсутствующий пользователь не заводится: ok = false.
func (g *Gate) mutate(user string, create bool, fn func(map[string]struct{}) map[string]struct{}) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.users[user]
	if !ok {
		if !create {
			return nil, false
		}
		set = make(map[string]struct{})
	}
	set = fn(set)
	g.users[user] = set
	return domain.SortedKeys(set), true
}

func (g *Gate) afterMutation(ctx context.Context, op, user, target, by string, perms []string) {
	g.logger.Info("permissions changed",
		zap.String("op", op), zap.String("user", user),
		zap.String("target", target), zap.String("by", by))

	g.auditChange(ctx, op, user, target, by, perms)
	// Write-through: сбой БД не откатывает изменение в памяти
	if g.store != nil {
		if err := g.store.SavePermissions(ctx, user, perms); err != nil {
			g.logger.Error("failed to persist permissions", zap.String("user", user), zap.Error(err))
		}
	}
	if g.notifier != nil {
		if err := g.notifier.PermissionsChanged(ctx, user); err != nil {
			g.logger.Warn("failed to announce permission change", zap.String("user", user), zap.Error(err))
		}
	}
}

func (g *Gate) auditChange(ctx context.Context, op, user, target, by string, perms []string) {
	if g.auditor != nil {
		g.auditor.LogAction(ctx, by, "permission."+op, map[string]any{"allowed": true, "permissions": perms}, audit.Options{
			Category: audit.CategoryPermission,
			Level:    audit.LevelInfo,
			Metadata: map[string]any{"user": user, "target": target},
		})
	}
}

func roleSet(r domain.Role) map[string]struct{} {
	return toSet(r.Permissions)
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}
