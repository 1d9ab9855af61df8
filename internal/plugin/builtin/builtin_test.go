package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governor/internal/connectors"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
	"go.uber.org/zap"
)

func TestTextTransform(t *testing.T) {
	tt := TextTransform{}
	ctx := context.Background()

	cases := []struct {
		mode, in, want string
	}{
		{"upper", "hello", "HELLO"},
		{"lower", "HeLLo", "hello"},
		{"title", "hello  wORLD", "Hello  World"},
		{"reverse", "привет", "тевирп"},
		{"trim", "  x  ", "x"},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			p := domain.Parameters{"text": tc.in, "mode": tc.mode}
			require.NoError(t, tt.Validate(p))
			out, err := tt.Execute(ctx, p)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.(map[string]any)["text"])
		})
	}

	out, err := tt.Execute(ctx, domain.Parameters{"text": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", out.(map[string]any)["text"])

	assert.ErrorIs(t, tt.Validate(domain.Parameters{}), domain.ErrValidation)
	assert.ErrorIs(t, tt.Validate(domain.Parameters{"text": "a", "mode": "shout"}), domain.ErrValidation)
}

func TestDatasetStore(t *testing.T) {
	kv := kvstore.NewMemory()
	d := NewDatasetStore(kv)
	ctx := context.Background()

	p := domain.Parameters{"name": "sales-2026", "data": map[string]any{"rows": 3.0}}
	require.NoError(t, d.Validate(p))
	out, err := d.Execute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "sales-2026", out.(map[string]any)["name"])

	raw, err := kv.Get(ctx, infra.RedisKeyDatasetPrefix+"sales-2026")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":3}`, string(raw))

	assert.ErrorIs(t, d.Validate(domain.Parameters{"name": "../etc", "data": 1}), domain.ErrValidation)
	assert.ErrorIs(t, d.Validate(domain.Parameters{"name": "ok"}), domain.ErrValidation)
	assert.ErrorIs(t, d.Validate(domain.Parameters{"name": "ok", "data": 1, "ttl_seconds": -1.0}), domain.ErrValidation)
}

type fakeFetcher struct {
	body  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, user string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf(f.body, user)), nil
}

func TestPersona_CacheAndStaleFallback(t *testing.T) {
	kv := kvstore.NewMemory()
	f := &fakeFetcher{body: `{"name":%q}`}
	p := NewPersona(f, kvstore.NewCache(kv, zap.NewNop()), 0)
	ctx := domain.WithActor(context.Background(), "alice")

	out, err := p.Execute(ctx, domain.Parameters{})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, "alice", res["user"])
	assert.Equal(t, map[string]any{"name": "alice"}, res["persona"])
	assert.Equal(t, false, res["stale"])

	// основной ключ пропал, апстрим лежит — отдаём копию
	require.NoError(t, kv.Delete(ctx, infra.RedisKeyPersonaPrefix+"alice"))
	f.err = errors.New("connection reset")
	out, err = p.Execute(ctx, domain.Parameters{})
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["stale"])

	_, err = p.Execute(ctx, domain.Parameters{"user": "bob"})
	assert.Error(t, err)
}

func TestPersona_NotFoundIsValidation(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: ghost", connectors.ErrPersonaNotFound)}
	p := NewPersona(f, kvstore.NewCache(kvstore.NewMemory(), zap.NewNop()), 0)

	_, err := p.Execute(context.Background(), domain.Parameters{"user": "ghost"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, p.Validate(domain.Parameters{"user": 42.0}), domain.ErrValidation)
}

type fakeCaller struct {
	id      string
	payload map[string]any
}

func (f *fakeCaller) Call(_ context.Context, id string, payload map[string]any) (map[string]any, error) {
	f.id, f.payload = id, payload
	return map[string]any{"status": "created"}, nil
}

func TestConnector(t *testing.T) {
	fc := &fakeCaller{}
	c := NewConnector(fc)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"name":"ACME"}`), &payload))
	p := domain.Parameters{"capability": "crm.lead.create", "payload": payload}
	require.NoError(t, c.Validate(p))

	out, err := c.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "created"}, out)
	assert.Equal(t, "crm.lead.create", fc.id)
	assert.Equal(t, "ACME", fc.payload["name"])

	assert.ErrorIs(t, c.Validate(domain.Parameters{}), domain.ErrValidation)
	assert.ErrorIs(t, c.Validate(domain.Parameters{"capability": "x", "payload": "str"}), domain.ErrValidation)
}
