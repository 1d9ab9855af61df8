package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
)

const (
	CategoryDataset = "dataset"
	maxDatasetBytes = 1 << 20
)

var datasetName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// DatasetStore — storeDataset: сохраняет именованный JSON-документ в KeyValueStore.
// Повторная запись с тем же именем перезаписывает документ, поэтому исполнение идемпотентно.
type DatasetStore struct {
	store kvstore.Store
}

func NewDatasetStore(store kvstore.Store) *DatasetStore {
	return &DatasetStore{store: store}
}

func (*DatasetStore) Name() string               { return domain.ActionStoreDataset }
func (*DatasetStore) Kind() domain.ActionKind    { return domain.KindPlugin }
func (*DatasetStore) Impact() domain.ImpactLevel { return domain.ImpactLow }
func (*DatasetStore) Description() string        { return "Store a named dataset document" }

func (*DatasetStore) Validate(p domain.Parameters) error {
	name, ok := p.String("name")
	if !ok || !datasetName.MatchString(name) {
		return domain.Invalid("name must match %s", datasetName)
	}
	if _, ok := p["data"]; !ok {
		return domain.Invalid("data is required")
	}
	if ttl, ok := p.Float("ttl_seconds"); ok && ttl < 0 {
		return domain.Invalid("ttl_seconds must not be negative")
	}
	return nil
}

func (d *DatasetStore) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	name, _ := p.String("name")
	raw, err := json.Marshal(p["data"])
	if err != nil {
		return nil, domain.Invalid("data is not serializable: %v", err)
	}
	if len(raw) > maxDatasetBytes {
		return nil, domain.Invalid("dataset exceeds %d bytes", maxDatasetBytes)
	}
	var ttl time.Duration
	if secs, ok := p.Float("ttl_seconds"); ok {
		ttl = time.Duration(secs * float64(time.Second))
	}

	if err := d.store.Set(ctx, infra.RedisKeyDatasetPrefix+name, raw, CategoryDataset, ttl); err != nil {
		return nil, fmt.Errorf("%w: store dataset %s: %v", domain.ErrExecution, name, err)
	}
	return map[string]any{"name": name, "bytes": len(raw)}, nil
}
