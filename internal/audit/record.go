package audit

import "time"

// Level — уровень важности записи. error/critical сбрасываются в хранилище немедленно.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// IsUrgent — записи этого уровня не ждут таймера.
func (l Level) IsUrgent() bool {
	return l == LevelError || l == LevelCritical
}

// Category группирует записи для фильтрации и статистики.
type Category string

const (
	CategoryAuthorization Category = "authorization"
	CategoryExecution     Category = "execution"
	CategoryApproval      Category = "approval"
	CategoryPermission    Category = "permission"
	CategorySystem        Category = "system"
	CategoryRetention     Category = "retention"
)

// Record — неизменяемая запись аудита. Хранилище дедуплицирует по ID.
type Record struct {
	ID          string         `json:"id" yaml:"id"`                   // UUIDv7, упорядочен по времени
	Actor       string         `json:"actor" yaml:"actor"`             // Кто делал
	Action      string         `json:"action" yaml:"action"`           // Что хотел сделать
	Input       string         `json:"input,omitempty" yaml:"input"`   // Исходный текст запроса
	Result      any            `json:"result,omitempty" yaml:"result"` // Что получилось
	Category    Category       `json:"category" yaml:"category"`
	Level       Level          `json:"level" yaml:"level"`
	SessionID   string         `json:"session_id,omitempty" yaml:"session_id"`
	ExecutionID string         `json:"execution_id,omitempty" yaml:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Options — необязательные поля LogAction.
type Options struct {
	Input       string
	SessionID   string
	ExecutionID string
	Category    Category
	Level       Level
	Metadata    map[string]any
}

// ActionRetentionCleanup — имя записи о чистке журнала.
const ActionRetentionCleanup = "audit.retention_cleanup"
