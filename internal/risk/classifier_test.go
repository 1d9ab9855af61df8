package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

func newTestClassifier() *Classifier {
	return NewClassifier(DefaultLevels(), DefaultApprovals(), map[string]Condition{
		"storeDataset": {RiskField: "size_mb", Threshold: 100},
	}, zap.NewNop())
}

func TestHighImpactAlwaysRequiresApproval(t *testing.T) {
	c := newTestClassifier()
	for action, level := range DefaultLevels() {
		if level.AtLeast(domain.ImpactHigh) {
			assert.True(t, c.RequiresApproval(action), action)
			assert.True(t, c.IsRequired(domain.ActionDescriptor{Name: action, Impact: level}), action)
		}
	}
	// Заявленный детектором critical перекрывает low из таблицы
	assert.True(t, c.IsRequired(domain.ActionDescriptor{Name: domain.ActionTransformText, Impact: domain.ImpactCritical}))
}

func TestExplicitApprovalTable(t *testing.T) {
	c := newTestClassifier()
	assert.Equal(t, domain.ImpactMedium, c.RiskLevel(domain.ActionClearCache))
	assert.True(t, c.RequiresApproval(domain.ActionClearCache))
	assert.False(t, c.RequiresApproval(domain.ActionCallConnector))
	assert.False(t, c.RequiresApproval(domain.ActionTransformText))
}

func TestUnknownActionIsHighRisk(t *testing.T) {
	c := newTestClassifier()
	assert.Equal(t, domain.ImpactHigh, c.RiskLevel("dropEverything"))
	assert.True(t, c.RequiresApproval("dropEverything"))
}

func TestDynamicThreshold(t *testing.T) {
	c := newTestClassifier()
	small := domain.ActionDescriptor{Name: domain.ActionStoreDataset, Impact: domain.ImpactLow, Parameters: domain.Parameters{"size_mb": 10.0}}
	large := domain.ActionDescriptor{Name: domain.ActionStoreDataset, Impact: domain.ImpactLow, Parameters: domain.Parameters{"size_mb": 500}}
	missing := domain.ActionDescriptor{Name: domain.ActionStoreDataset, Impact: domain.ImpactLow}

	assert.False(t, c.IsRequired(small))
	assert.True(t, c.IsRequired(large))
	assert.False(t, c.IsRequired(missing))
}

func TestDescribe(t *testing.T) {
	c := newTestClassifier()
	assert.Equal(t, "low impact", c.Describe(domain.ImpactLow, nil))
	assert.Equal(t, "critical impact; affects agent-runtime; requires operator approval",
		c.Describe(domain.ImpactCritical, []string{"agent-runtime"}))
	assert.Equal(t, domain.ImpactCritical, c.EffectiveImpact(domain.ActionDescriptor{Name: domain.ActionRestartAgent, Impact: domain.ImpactLow}))
}
