package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/risk"
	"go.uber.org/zap"
)

type recordedAudit struct {
	actor, action string
	opts          audit.Options
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []recordedAudit
}

func (f *fakeAuditor) LogAction(_ context.Context, actor, action string, _ any, opts audit.Options) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedAudit{actor: actor, action: action, opts: opts})
	return fmt.Sprintf("rec-%d", len(f.records))
}

type memStore struct {
	mu    sync.Mutex
	data  map[string][]string
	fail  bool
	saves int
}

func (m *memStore) LoadPermissions(context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) LoadUser(_ context.Context, user string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[user]
	return p, ok, nil
}

func (m *memStore) SavePermissions(_ context.Context, user string, perms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.fail {
		return errors.New("db down")
	}
	m.data[user] = perms
	return nil
}

func newGate(t *testing.T, opts ...Option) *Gate {
	t.Helper()
	c := risk.NewClassifier(risk.DefaultLevels(), risk.DefaultApprovals(), nil, zap.NewNop())
	g := NewGate(domain.DefaultRoles(), c, zap.NewNop(), opts...)
	require.NoError(t, g.Bootstrap(map[string]string{
		"root":  domain.RoleSuperAdmin,
		"admin": domain.RoleAdmin,
		"guest": domain.RoleGuest,
	}))
	return g
}

func TestIsAuthorized(t *testing.T) {
	g := newGate(t)

	assert.True(t, g.IsAuthorized("guest", domain.ActionTransformText))
	assert.False(t, g.IsAuthorized("guest", domain.ActionRestartAgent))
	assert.True(t, g.IsAuthorized("admin", domain.ActionRestartAgent))
	assert.False(t, g.IsAuthorized("nobody", domain.ActionTransformText))
	assert.False(t, g.IsAuthorized("root", "noSuchAction"))
}

func TestIsAuthorized_OneCheckPerCall(t *testing.T) {
	g := newGate(t)
	g.IsAuthorized("nobody", domain.ActionRestartAgent)

	checks := g.Checks()
	require.Len(t, checks, 1)
	assert.Equal(t, Check{User: "nobody", Action: domain.ActionRestartAgent, Allowed: false, Timestamp: checks[0].Timestamp}, checks[0])
}

func TestChecks_RingTrims(t *testing.T) {
	g := newGate(t)
	for i := 0; i < checksCap; i++ {
		g.IsAuthorized("guest", domain.ActionTransformText)
	}
	assert.Len(t, g.Checks(), checksCap)

	g.IsAuthorized("guest", domain.ActionRestartAgent)
	checks := g.Checks()
	assert.Len(t, checks, checksKeep)
	// самая свежая проверка сохранилась последней
	assert.Equal(t, domain.ActionRestartAgent, checks[len(checks)-1].Action)
}

func TestHasRole(t *testing.T) {
	g := newGate(t)

	assert.True(t, g.HasRole("root", domain.RoleSuperAdmin))
	assert.True(t, g.HasRole("root", domain.RoleGuest))
	assert.True(t, g.HasRole("admin", domain.RoleOperator))
	assert.False(t, g.HasRole("admin", domain.RoleSuperAdmin))
	assert.False(t, g.HasRole("nobody", domain.RoleGuest))
	assert.False(t, g.HasRole("root", "wizard"))
}

func TestGrantRevoke_RoundTrip(t *testing.T) {
	aud := &fakeAuditor{}
	g := newGate(t, WithAuditor(aud))
	ctx := context.Background()

	require.True(t, g.GrantPermission(ctx, "guest", domain.ActionStoreDataset, "root"))
	assert.True(t, g.IsAuthorized("guest", domain.ActionStoreDataset))

	require.True(t, g.RevokePermission(ctx, "guest", domain.ActionStoreDataset, "root"))
	assert.False(t, g.IsAuthorized("guest", domain.ActionStoreDataset))

	require.Len(t, aud.records, 2)
	assert.Equal(t, "permission.grant", aud.records[0].action)
	assert.Equal(t, audit.CategoryPermission, aud.records[0].opts.Category)
	assert.Equal(t, "root", aud.records[1].actor)
}

func TestGrant_CreatesUnknownUser(t *testing.T) {
	g := newGate(t)
	require.True(t, g.GrantPermission(context.Background(), "newbie", domain.ActionTransformText, "root"))
	assert.True(t, g.IsAuthorized("newbie", domain.ActionTransformText))
}

func TestRevoke_UnknownUserStaysUnknown(t *testing.T) {
	aud := &fakeAuditor{}
	store := &memStore{data: map[string][]string{}}
	g := newGate(t, WithAuditor(aud), WithStore(store))

	require.True(t, g.RevokePermission(context.Background(), "ghost", domain.ActionTransformText, "root"))

	_, known := g.Permissions("ghost")
	assert.False(t, known)
	assert.Zero(t, store.saves)
	require.Len(t, aud.records, 1)
	assert.Equal(t, "permission.revoke", aud.records[0].action)
	assert.Equal(t, audit.CategoryPermission, aud.records[0].opts.Category)
}

func TestMutations_RequireSuperAdmin(t *testing.T) {
	aud := &fakeAuditor{}
	store := &memStore{data: map[string][]string{}}
	g := newGate(t, WithAuditor(aud), WithStore(store))
	ctx := context.Background()

	assert.False(t, g.GrantPermission(ctx, "guest", domain.ActionRunCommand, "admin"))
	assert.False(t, g.RevokePermission(ctx, "admin", domain.ActionRestartAgent, "guest"))
	assert.False(t, g.AssignRole(ctx, "guest", domain.RoleSuperAdmin, "nobody"))

	assert.False(t, g.IsAuthorized("guest", domain.ActionRunCommand))
	assert.True(t, g.IsAuthorized("admin", domain.ActionRestartAgent))
	assert.Zero(t, store.saves)

	require.Len(t, aud.records, 3)
	for _, r := range aud.records {
		assert.Equal(t, audit.LevelWarning, r.opts.Level)
		assert.Equal(t, audit.CategoryAuthorization, r.opts.Category)
	}
}

func TestAssignRole_ReplacesSet(t *testing.T) {
	store := &memStore{data: map[string][]string{}}
	g := newGate(t, WithStore(store))
	ctx := context.Background()

	require.True(t, g.AssignRole(ctx, "admin", domain.RoleGuest, "root"))
	assert.False(t, g.IsAuthorized("admin", domain.ActionRestartAgent))
	assert.True(t, g.HasRole("admin", domain.RoleGuest))

	perms, ok := g.Permissions("admin")
	require.True(t, ok)
	assert.Equal(t, []string{domain.ActionFetchPersona, domain.ActionTransformText}, perms)
	assert.Equal(t, perms, store.data["admin"])

	assert.False(t, g.AssignRole(ctx, "admin", "wizard", "root"))
}

func TestPersistFailureKeepsInMemoryChange(t *testing.T) {
	store := &memStore{data: map[string][]string{}, fail: true}
	g := newGate(t, WithStore(store))

	require.True(t, g.GrantPermission(context.Background(), "guest", domain.ActionStoreDataset, "root"))
	assert.True(t, g.IsAuthorized("guest", domain.ActionStoreDataset))
	assert.Equal(t, 1, store.saves)
}

func TestLoadAndRefresh(t *testing.T) {
	store := &memStore{data: map[string][]string{
		"carol": {domain.ActionBackupDatabase},
	}}
	g := newGate(t, WithStore(store))
	ctx := context.Background()

	require.NoError(t, g.Load(ctx))
	assert.True(t, g.IsAuthorized("carol", domain.ActionBackupDatabase))

	store.data["carol"] = []string{domain.ActionTransformText}
	require.NoError(t, g.Refresh(ctx, "carol"))
	assert.False(t, g.IsAuthorized("carol", domain.ActionBackupDatabase))

	delete(store.data, "carol")
	require.NoError(t, g.Refresh(ctx, "carol"))
	_, ok := g.Permissions("carol")
	assert.False(t, ok)
}

func TestBootstrap_UnknownRole(t *testing.T) {
	c := risk.NewClassifier(risk.DefaultLevels(), nil, nil, zap.NewNop())
	g := NewGate(domain.DefaultRoles(), c, zap.NewNop())
	err := g.Bootstrap(map[string]string{"x": "wizard"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStaticClassification(t *testing.T) {
	g := newGate(t)
	assert.True(t, g.RequiresApproval(domain.ActionClearCache))
	assert.True(t, g.RequiresApproval(domain.ActionRestartAgent))
	assert.False(t, g.RequiresApproval(domain.ActionTransformText))
	assert.Equal(t, domain.ImpactCritical, g.RiskLevel(domain.ActionRestartAgent))
}

func TestConcurrentAccess(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			g.GrantPermission(ctx, user, domain.ActionTransformText, "root")
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.IsAuthorized("guest", domain.ActionTransformText)
			}
		}()
	}
	wg.Wait()
	for i := 0; i < 16; i++ {
		assert.True(t, g.IsAuthorized(fmt.Sprintf("u%d", i), domain.ActionTransformText))
	}
}
