// Package detector превращает свободный текст в список кандидатов на исполнение.
package detector

import (
	"context"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

// Context — контекст запроса, доступный детектору.
type Context struct {
	SessionID  string         `json:"session_id"`
	User       string         `json:"user"`
	History    []string       `json:"history,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Detector — внешний компонент NLU. Один и тот же ввод должен давать один и тот же результат.
type Detector interface {
	Detect(ctx context.Context, input string, c Context) ([]domain.ActionDescriptor, error)
}
