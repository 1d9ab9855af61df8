package command

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
	"github.com/xela07ax/spaceai-governor/internal/plugin/builtin"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type fakeSignaler struct {
	sent []RestartSignal
	err  error
}

func (f *fakeSignaler) Signal(_ context.Context, sig RestartSignal) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sig)
	return nil
}

func TestRouter_RejectsNonCommands(t *testing.T) {
	r := NewRouter(time.Second, zap.NewNop())
	err := r.Register(struct {
		builtin.TextTransform
		noServices
	}{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type noServices struct{}

func (noServices) AffectedServices() []string { return nil }

func TestRouter_Catalog(t *testing.T) {
	r := NewRouter(time.Second, zap.NewNop())
	r.MustRegister(NewRestartAgent(&fakeSignaler{}), NewClearCache(kvstore.NewMemory(), []string{"persona"}))

	assert.Equal(t, []string{"agent-runtime"}, r.AffectedServices(domain.ActionRestartAgent))
	assert.Nil(t, r.AffectedServices("nope"))

	lvl, ok := r.Impact(domain.ActionRestartAgent)
	require.True(t, ok)
	assert.Equal(t, domain.ImpactCritical, lvl)
	_, ok = r.Impact("nope")
	assert.False(t, ok)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, domain.ActionClearCache, all[0].Name)
	assert.Equal(t, []string{"cache"}, all[0].AffectedServices)

	assert.Panics(t, func() { r.MustRegister(NewRestartAgent(&fakeSignaler{})) })
}

func TestRestartAgent(t *testing.T) {
	sig := &fakeSignaler{}
	r := NewRouter(time.Second, zap.NewNop())
	r.MustRegister(NewRestartAgent(sig))
	ctx := domain.WithActor(context.Background(), "admin")

	res := r.ExecuteCommand(ctx, domain.ActionRestartAgent, domain.Parameters{"agent": "agent-7"}, "e1")
	require.True(t, res.Success, res.Error)
	require.Len(t, sig.sent, 1)
	assert.Equal(t, "agent-7", sig.sent[0].Agent)
	assert.Equal(t, "admin", sig.sent[0].RequestedBy)

	res = r.ExecuteCommand(ctx, domain.ActionRestartAgent, domain.Parameters{"agent": "rm -rf /"}, "e2")
	assert.Equal(t, domain.ReasonInvalidParameters, res.Reason)

	sig.err = errors.New("redis down")
	res = r.ExecuteCommand(ctx, domain.ActionRestartAgent, domain.Parameters{"agent": "agent-7"}, "e3")
	assert.Equal(t, domain.ReasonExecutionFailed, res.Reason)
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Set(ctx, "persona:a", []byte("{}"), "persona", 0))
	require.NoError(t, kv.Set(ctx, "dataset:a", []byte("{}"), "dataset", 0))

	c := NewClearCache(kv, []string{"persona", "dataset"})
	require.NoError(t, c.Validate(domain.Parameters{"category": "persona"}))
	assert.ErrorIs(t, c.Validate(domain.Parameters{"category": "sessions"}), domain.ErrValidation)

	out, err := c.Execute(ctx, domain.Parameters{"category": "persona"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["deleted"])

	_, err = kv.Get(ctx, "dataset:a")
	assert.NoError(t, err)
}

func TestRewriteConfig(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	c := NewRewriteConfig(kv)

	p := domain.Parameters{"key": "max_sessions", "value": 10.0}
	require.NoError(t, c.Validate(p))
	out, err := c.Execute(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, out.(map[string]any)["previous"])

	out, err = c.Execute(ctx, domain.Parameters{"key": "max_sessions", "value": 20.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.(map[string]any)["previous"])

	raw, err := kv.Get(ctx, infra.RedisKeyRuntimeConfig+"max_sessions")
	require.NoError(t, err)
	assert.Equal(t, "20", string(raw))

	assert.ErrorIs(t, c.Validate(domain.Parameters{"key": "Bad Key", "value": 1}), domain.ErrValidation)
	assert.ErrorIs(t, c.Validate(domain.Parameters{"key": "ok"}), domain.ErrValidation)
}

type fakeExporter struct {
	records []audit.Record
	filter  audit.Filter
}

func (f *fakeExporter) Export(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	f.filter = filter
	return f.records, nil
}

func TestBackupDatabase(t *testing.T) {
	dir := t.TempDir()
	exp := &fakeExporter{records: []audit.Record{
		{ID: "r1", Actor: "admin", Action: "clearCache", Level: audit.LevelInfo, Timestamp: time.Now().UTC()},
	}}
	b := NewBackupDatabase(exp, dir)
	tick := time.Now()
	b.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	ctx := context.Background()

	out, err := b.Execute(ctx, domain.Parameters{})
	require.NoError(t, err)
	path := out.(map[string]any)["path"].(string)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, "r1", snap.Records[0].ID)
	assert.True(t, exp.filter.From.IsZero())

	out, err = b.Execute(ctx, domain.Parameters{"format": "yaml", "since_days": 7.0})
	require.NoError(t, err)
	data, err = os.ReadFile(out.(map[string]any)["path"].(string))
	require.NoError(t, err)
	var ysnap snapshot
	require.NoError(t, yaml.Unmarshal(data, &ysnap))
	assert.Equal(t, "admin", ysnap.Records[0].Actor)
	assert.False(t, exp.filter.From.IsZero())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2) // временные файлы не остаются

	assert.ErrorIs(t, b.Validate(domain.Parameters{"format": "xml"}), domain.ErrValidation)
}

type fakeCleaner struct {
	olderThan time.Duration
	actor     string
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration, actor string) (int64, error) {
	f.olderThan, f.actor = olderThan, actor
	return 4, nil
}

func TestCleanupLogs(t *testing.T) {
	fc := &fakeCleaner{}
	c := NewCleanupLogs(fc, 90)
	ctx := domain.WithActor(context.Background(), "root")

	out, err := c.Execute(ctx, domain.Parameters{"days": 30.0})
	require.NoError(t, err)
	assert.EqualValues(t, 4, out.(map[string]any)["deleted"])
	assert.Equal(t, 30*24*time.Hour, fc.olderThan)
	assert.Equal(t, "root", fc.actor)

	_, err = c.Execute(ctx, domain.Parameters{})
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, fc.olderThan)

	assert.ErrorIs(t, c.Validate(domain.Parameters{"days": 0.5}), domain.ErrValidation)
	assert.ErrorIs(t, c.Validate(domain.Parameters{"days": "ten"}), domain.ErrValidation)
}

func TestRunCommand(t *testing.T) {
	r := NewRouter(5*time.Second, zap.NewNop())
	r.MustRegister(NewRunCommand([]string{"echo", "false"}, time.Second))
	ctx := context.Background()

	res := r.ExecuteCommand(ctx, domain.ActionRunCommand, domain.Parameters{"command": "echo", "args": []any{"hello"}}, "e1")
	require.True(t, res.Success, res.Error)
	out := res.Output.(map[string]any)
	assert.Equal(t, "hello\n", out["stdout"])
	assert.Equal(t, 0, out["exit_code"])

	res = r.ExecuteCommand(ctx, domain.ActionRunCommand, domain.Parameters{"command": "false"}, "e2")
	assert.Equal(t, domain.ReasonExecutionFailed, res.Reason)

	res = r.ExecuteCommand(ctx, domain.ActionRunCommand, domain.Parameters{"command": "rm"}, "e3")
	assert.Equal(t, domain.ReasonInvalidParameters, res.Reason)

	res = r.ExecuteCommand(ctx, domain.ActionRunCommand, domain.Parameters{"command": "echo", "args": []any{"a; rm -rf /"}}, "e4")
	assert.Equal(t, domain.ReasonInvalidParameters, res.Reason)
}

func TestRunCommand_Timeout(t *testing.T) {
	r := NewRouter(5*time.Second, zap.NewNop())
	r.MustRegister(NewRunCommand([]string{"sleep"}, 50*time.Millisecond))

	res := r.ExecuteCommand(context.Background(), domain.ActionRunCommand, domain.Parameters{"command": "sleep", "args": []any{"5"}}, "e1")
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonTimeout, res.Reason)
}

func TestCapped(t *testing.T) {
	var c capped
	big := make([]byte, maxOutput+10)
	n, err := c.Write(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)
	assert.Equal(t, maxOutput, c.buf.Len())
	assert.True(t, c.truncated)
}
