package command

import (
	"context"
	"fmt"
	"slices"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
)

// ClearCache — clearCache: удаляет все ключи категории KeyValueStore.
type ClearCache struct {
	store      kvstore.Store
	categories []string
}

func NewClearCache(store kvstore.Store, categories []string) *ClearCache {
	return &ClearCache{store: store, categories: categories}
}

func (*ClearCache) Name() string               { return domain.ActionClearCache }
func (*ClearCache) Kind() domain.ActionKind    { return domain.KindSystemCommand }
func (*ClearCache) Impact() domain.ImpactLevel { return domain.ImpactMedium }
func (*ClearCache) Description() string        { return "Clear a cache category" }
func (*ClearCache) AffectedServices() []string { return []string{"cache"} }

func (c *ClearCache) Validate(p domain.Parameters) error {
	cat, ok := p.String("category")
	if !ok || !slices.Contains(c.categories, cat) {
		return domain.Invalid("category must be one of %v", c.categories)
	}
	return nil
}

func (c *ClearCache) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	cat, _ := p.String("category")
	n, err := c.store.DeleteCategory(ctx, cat)
	if err != nil {
		return nil, fmt.Errorf("%w: clear %s: %v", domain.ErrExecution, cat, err)
	}
	return map[string]any{"category": cat, "deleted": n}, nil
}
