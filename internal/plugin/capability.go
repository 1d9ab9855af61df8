// Package plugin — реестр исполняемых возможностей (плагинов) и их исполнитель с таймаутом.
package plugin

import (
	"context"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

// Capability — пара (validate, execute) за стабильным именем.
// Execute должен уважать ctx: по таймауту результат всё равно будет отброшен.
type Capability interface {
	Name() string
	Description() string
	Kind() domain.ActionKind
	Impact() domain.ImpactLevel
	Validate(params domain.Parameters) error
	Execute(ctx context.Context, params domain.Parameters) (any, error)
}

// Info — описание возможности для каталога и детектора.
type Info struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Kind        domain.ActionKind  `json:"kind"`
	Impact      domain.ImpactLevel `json:"impact_level"`
}

func InfoOf(c Capability) Info {
	return Info{Name: c.Name(), Description: c.Description(), Kind: c.Kind(), Impact: c.Impact()}
}
