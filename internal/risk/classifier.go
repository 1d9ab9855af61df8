package risk

import (
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

// Condition — динамический порог: если числовой параметр действия больше Threshold, нужен апрув.
type Condition struct {
	RiskField string  `json:"risk_field"`
	Threshold float64 `json:"threshold"`
}

// Classifier держит статические таблицы классификации действий.
// Таблицы заполняются при старте и дальше только читаются, поэтому блокировки не нужны.
type Classifier struct {
	levels     map[string]domain.ImpactLevel
	approval   map[string]bool
	conditions map[string]Condition // ключи в нижнем регистре (viper приводит ключи карт к lower case)
	logger     *zap.Logger
}

// DefaultLevels — уровни риска встроенных действий.
func DefaultLevels() map[string]domain.ImpactLevel {
	return map[string]domain.ImpactLevel{
		domain.ActionTransformText:  domain.ImpactLow,
		domain.ActionStoreDataset:   domain.ImpactLow,
		domain.ActionFetchPersona:   domain.ImpactLow,
		domain.ActionCallConnector:  domain.ImpactMedium,
		domain.ActionClearCache:     domain.ImpactMedium,
		domain.ActionRewriteConfig:  domain.ImpactHigh,
		domain.ActionBackupDatabase: domain.ImpactHigh,
		domain.ActionCleanupLogs:    domain.ImpactHigh,
		domain.ActionRestartAgent:   domain.ImpactCritical,
		domain.ActionRunCommand:     domain.ImpactCritical,
	}
}

// DefaultApprovals — явная классификация действий, которым нужен апрув независимо от уровня.
func DefaultApprovals() map[string]bool {
	return map[string]bool{
		domain.ActionClearCache: true,
	}
}

func NewClassifier(levels map[string]domain.ImpactLevel, approvals map[string]bool, conditions map[string]Condition, logger *zap.Logger) *Classifier {
	c := &Classifier{
		levels:     make(map[string]domain.ImpactLevel, len(levels)),
		approval:   make(map[string]bool, len(approvals)),
		conditions: make(map[string]Condition, len(conditions)),
		logger:     logger.Named("risk"),
	}
	for k, v := range levels {
		c.levels[k] = v
	}
	for k, v := range approvals {
		c.approval[k] = v
	}
	for k, v := range conditions {
		c.conditions[strings.ToLower(k)] = v
	}
	return c
}

// RiskLevel возвращает уровень риска действия. Неизвестное действие считается high:
// лучше лишний раз спросить оператора, чем исполнить неклассифицированное.
func (c *Classifier) RiskLevel(action string) domain.ImpactLevel {
	if l, ok := c.levels[action]; ok {
		return l
	}
	return domain.ImpactHigh
}

// RequiresApproval — статическое решение по имени действия.
func (c *Classifier) RequiresApproval(action string) bool {
	if c.approval[action] {
		return true
	}
	return c.RiskLevel(action).AtLeast(domain.ImpactHigh)
}

// IsRequired проверяет, нужно ли отправлять конкретный кандидат на апрув (HITL):
// статическая таблица, заявленный детектором импакт и динамические пороги по параметрам.
func (c *Classifier) IsRequired(d domain.ActionDescriptor) bool {
	// 1. Быстрая проверка по таблицам и уровню
	if c.RequiresApproval(d.Name) || d.Impact.AtLeast(domain.ImpactHigh) {
		return true
	}

	// 2. Динамические лимиты
	cond, ok := c.conditions[strings.ToLower(d.Name)]
	if !ok || cond.RiskField == "" {
		return false
	}

	val, ok := d.Parameters.Float(cond.RiskField)
	if !ok {
		return false
	}
	if val > cond.Threshold {
		c.logger.Warn("dynamic approval triggered",
			zap.String("action", d.Name),
			zap.String("field", cond.RiskField),
			zap.Float64("value", val),
			zap.Float64("threshold", cond.Threshold),
		)
		return true
	}
	return false
}

// EffectiveImpact — более строгий из заявленного детектором и табличного уровней.
func (c *Classifier) EffectiveImpact(d domain.ActionDescriptor) domain.ImpactLevel {
	return domain.Max(d.Impact, c.RiskLevel(d.Name))
}

// Describe формирует человекочитаемую оценку импакта для превью.
func (c *Classifier) Describe(level domain.ImpactLevel, affected []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s impact", level)
	if len(affected) > 0 {
		fmt.Fprintf(&b, "; affects %s", strings.Join(affected, ", "))
	}
	if level.AtLeast(domain.ImpactHigh) {
		b.WriteString("; requires operator approval")
	}
	return b.String()
}
