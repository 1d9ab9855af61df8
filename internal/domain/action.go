package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionKind определяет класс диспетчеризации действия
type ActionKind string

const (
	KindPlugin        ActionKind = "plugin"         // Обычный плагин (низкий импакт по умолчанию)
	KindSystemCommand ActionKind = "system_command" // Привилегированная системная команда
	KindExternalAPI   ActionKind = "external_api"   // Вызов внешнего API (persona, коннекторы)
)

// ImpactLevel — статическая классификация риска, от которой зависит требование апрува.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

func (l ImpactLevel) rank() int {
	switch l {
	case ImpactLow:
		return 1
	case ImpactMedium:
		return 2
	case ImpactHigh:
		return 3
	case ImpactCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast сравнивает уровни. Неизвестный уровень меньше любого известного.
func (l ImpactLevel) AtLeast(other ImpactLevel) bool {
	return l.rank() >= other.rank()
}

// Valid сообщает, является ли уровень одним из четырёх известных.
func (l ImpactLevel) Valid() bool {
	return l.rank() > 0
}

// Max возвращает более строгий из двух уровней.
func Max(a, b ImpactLevel) ImpactLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

func ParseImpactLevel(s string) (ImpactLevel, error) {
	l := ImpactLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown impact level: %q", s)
	}
	return l, nil
}

// Parameters — непрозрачный набор параметров действия.
// Значения приходят из JSON, поэтому числа обычно float64.
type Parameters map[string]any

func (p Parameters) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (p Parameters) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (p Parameters) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Clone делает поверхностную копию, чтобы дескриптор оставался неизменяемым.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ActionDescriptor — кандидат на исполнение, который вернул детектор.
// После создания не меняется.
type ActionDescriptor struct {
	Name        string      `json:"name"`
	Kind        ActionKind  `json:"kind"`
	Parameters  Parameters  `json:"parameters,omitempty"`
	Description string      `json:"description"`
	Impact      ImpactLevel `json:"impact_level"`
}

// ExecutionPreview — описание того, что произойдёт, если действие одобрят.
type ExecutionPreview struct {
	Action           ActionDescriptor `json:"action"`
	RequiresApproval bool             `json:"requires_approval"`
	EstimatedImpact  string           `json:"estimated_impact"`
}

// ResultReason — машиночитаемый код причины неуспеха
type ResultReason string

const (
	ReasonNone              ResultReason = ""
	ReasonUnauthorized      ResultReason = "unauthorized"
	ReasonNotFound          ResultReason = "not_found"
	ReasonInvalidParameters ResultReason = "invalid_parameters"
	ReasonExecutionFailed   ResultReason = "execution_failed"
	ReasonTimeout           ResultReason = "timeout"
	ReasonUnknownAction     ResultReason = "unknown_action"
)

// ExecutionResult создаётся ровно один раз на одобренное действие в рамках запроса.
type ExecutionResult struct {
	Action      string       `json:"action"`
	Success     bool         `json:"success"`
	Output      any          `json:"output,omitempty"`
	Error       string       `json:"error,omitempty"`
	Reason      ResultReason `json:"reason,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	ExecutionID string       `json:"execution_id"`
	DurationMs  int64        `json:"duration_ms"`
}

// FailedResult собирает результат неуспеха из ошибки, вытаскивая код причины.
func FailedResult(action, executionID string, err error, at time.Time) ExecutionResult {
	return ExecutionResult{
		Action:      action,
		Success:     false,
		Error:       err.Error(),
		Reason:      ReasonOf(err),
		Timestamp:   at,
		ExecutionID: executionID,
	}
}
