package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/connectors"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
)

const CategoryPersona = "persona"

// PersonaFetcher — источник профилей (connectors.PersonaClient).
type PersonaFetcher interface {
	Fetch(ctx context.Context, userID string) ([]byte, error)
}

// Persona — fetchPersona: профиль пользователя из внешнего API с кэшем и last-known-good.
type Persona struct {
	fetcher PersonaFetcher
	cache   *kvstore.Cache
	ttl     time.Duration
}

func NewPersona(fetcher PersonaFetcher, cache *kvstore.Cache, ttl time.Duration) *Persona {
	return &Persona{fetcher: fetcher, cache: cache, ttl: ttl}
}

func (*Persona) Name() string               { return domain.ActionFetchPersona }
func (*Persona) Kind() domain.ActionKind    { return domain.KindExternalAPI }
func (*Persona) Impact() domain.ImpactLevel { return domain.ImpactLow }
func (*Persona) Description() string        { return "Fetch the persona and preferences of a user" }

func (*Persona) Validate(p domain.Parameters) error {
	if v, ok := p["user"]; ok {
		if s, isStr := v.(string); !isStr || s == "" {
			return domain.Invalid("user must be a non-empty string")
		}
	}
	return nil
}

func (c *Persona) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	user, ok := p.String("user")
	if !ok {
		user = domain.ActorFromContext(ctx)
	}
	if user == "" {
		return nil, domain.Invalid("user is unknown")
	}

	raw, stale, err := c.cache.GetOrFetch(ctx, infra.RedisKeyPersonaPrefix+user, CategoryPersona, c.ttl,
		func(ctx context.Context) ([]byte, error) { return c.fetcher.Fetch(ctx, user) })
	if errors.Is(err, connectors.ErrPersonaNotFound) {
		// Отсутствие профиля — не сбой апстрима, ретраить бессмысленно
		return nil, domain.Invalid("no persona for user %q", user)
	}
	if err != nil {
		return nil, err
	}

	var persona map[string]any
	if err := json.Unmarshal(raw, &persona); err != nil {
		return nil, fmt.Errorf("%w: persona is not a JSON object: %v", domain.ErrExecution, err)
	}
	return map[string]any{"user": user, "persona": persona, "stale": stale}, nil
}
