package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImpactLevelOrdering(t *testing.T) {
	assert.True(t, ImpactCritical.AtLeast(ImpactHigh))
	assert.True(t, ImpactHigh.AtLeast(ImpactHigh))
	assert.False(t, ImpactMedium.AtLeast(ImpactHigh))
	assert.False(t, ImpactLevel("bogus").AtLeast(ImpactLow))
	assert.Equal(t, ImpactHigh, Max(ImpactLow, ImpactHigh))
	assert.Equal(t, ImpactCritical, Max(ImpactCritical, ImpactMedium))

	_, err := ParseImpactLevel("extreme")
	assert.Error(t, err)
	l, err := ParseImpactLevel("medium")
	require.NoError(t, err)
	assert.Equal(t, ImpactMedium, l)
}

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ResultReason
	}{
		{"nil", nil, ReasonNone},
		{"validation", Invalid("missing %s", "text"), ReasonInvalidParameters},
		{"timeout wrapped", fmt.Errorf("call: %w", ErrTimeout), ReasonTimeout},
		{"unknown action", ErrUnknownAction, ReasonNotFound},
		{"explicit", NewActionError("x", ReasonUnauthorized, nil), ReasonUnauthorized},
		{"plain", errors.New("boom"), ReasonExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}

func TestPendingApprovalSet(t *testing.T) {
	previews := []ExecutionPreview{
		{Action: ActionDescriptor{Name: ActionTransformText}, RequiresApproval: false},
		{Action: ActionDescriptor{Name: ActionRestartAgent}, RequiresApproval: true},
		{Action: ActionDescriptor{Name: ActionClearCache}, RequiresApproval: true},
		{Action: ActionDescriptor{Name: ActionRestartAgent}, RequiresApproval: true},
	}
	set := NewPendingApprovalSet(previews)

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{ActionRestartAgent, ActionClearCache}, set.Names())
	assert.False(t, set.Contains(ActionTransformText))
	assert.Equal(t, StatusPending, set.Status(ActionRestartAgent))

	require.NoError(t, set.Decide(ActionRestartAgent, true))
	assert.Equal(t, StatusApproved, set.Status(ActionRestartAgent))
	assert.ErrorIs(t, set.Decide(ActionRestartAgent, false), ErrAlreadyProcessed)
	assert.ErrorIs(t, set.Decide(ActionTransformText, true), ErrUnknownAction)
}

func TestDefaultRolesAreNested(t *testing.T) {
	roles := DefaultRoles()
	contains := func(role, perm string) bool {
		for _, p := range roles[role].Permissions {
			if p == perm {
				return true
			}
		}
		return false
	}
	for _, p := range roles[RoleGuest].Permissions {
		assert.True(t, contains(RoleSuperAdmin, p), p)
	}
	assert.True(t, contains(RoleAdmin, ActionClearCache))
	assert.False(t, contains(RoleGuest, ActionRestartAgent))
	assert.False(t, contains(RoleAdmin, ActionRunCommand))
}
