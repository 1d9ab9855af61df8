package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
)

const CategoryConfig = "config"

var configKey = regexp.MustCompile(`^[a-z0-9_.-]{1,64}$`)

// RewriteConfig — rewriteConfig: меняет runtime-настройку и возвращает прежнее значение.
type RewriteConfig struct {
	store kvstore.Store
}

func NewRewriteConfig(store kvstore.Store) *RewriteConfig {
	return &RewriteConfig{store: store}
}

func (*RewriteConfig) Name() string               { return domain.ActionRewriteConfig }
func (*RewriteConfig) Kind() domain.ActionKind    { return domain.KindSystemCommand }
func (*RewriteConfig) Impact() domain.ImpactLevel { return domain.ImpactHigh }
func (*RewriteConfig) Description() string        { return "Rewrite a runtime configuration value" }
func (*RewriteConfig) AffectedServices() []string { return []string{"runtime-config"} }

func (*RewriteConfig) Validate(p domain.Parameters) error {
	key, ok := p.String("key")
	if !ok || !configKey.MatchString(key) {
		return domain.Invalid("key must match %s", configKey)
	}
	if _, ok := p["value"]; !ok {
		return domain.Invalid("value is required")
	}
	return nil
}

func (c *RewriteConfig) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	key, _ := p.String("key")
	full := infra.RedisKeyRuntimeConfig + key

	var previous any
	old, err := c.store.Get(ctx, full)
	switch {
	case err == nil:
		_ = json.Unmarshal(old, &previous)
	case !errors.Is(err, kvstore.ErrNotFound):
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrExecution, key, err)
	}

	raw, err := json.Marshal(p["value"])
	if err != nil {
		return nil, domain.Invalid("value is not serializable: %v", err)
	}
	if err := c.store.Set(ctx, full, raw, CategoryConfig, 0); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", domain.ErrExecution, key, err)
	}
	return map[string]any{"key": key, "previous": previous, "value": p["value"]}, nil
}
