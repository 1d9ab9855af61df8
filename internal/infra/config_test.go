package infra

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := decode(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Engine.ExecutionTimeout)
	assert.Equal(t, 5*time.Second, cfg.Audit.FlushInterval)
	assert.False(t, cfg.Engine.StrictApprovals)
	assert.Contains(t, cfg.Commands.ShellAllowList, "uptime")
}

func TestDecodeYAMLOverrides(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	yaml := `
server:
  port: 9001
engine:
  strict_approvals: true
  approval_thresholds:
    storeDataset:
      risk_field: size_mb
      threshold: 512
permissions:
  bootstrap:
    root: super_admin
    alice: admin
detector:
  rules:
    - action: transformText
      kind: plugin
      keywords: ["shout"]
      parameters:
        mode: upper
`
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))

	cfg, err := decode(v)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.True(t, cfg.Engine.StrictApprovals)
	assert.Equal(t, "size_mb", cfg.Engine.ApprovalThresholds["storedataset"].RiskField)
	assert.Equal(t, "super_admin", cfg.Permissions.Bootstrap["root"])
	require.Len(t, cfg.Detector.Rules, 1)
	assert.Equal(t, []string{"shout"}, cfg.Detector.Rules[0].Keywords)
	assert.Equal(t, "upper", cfg.Detector.Rules[0].Parameters["mode"])
}

func TestDecodeRejectsInvalidThresholds(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("audit.warning_error_rate", 0.5)
	v.Set("audit.critical_error_rate", 0.1)

	_, err := decode(v)
	assert.Error(t, err)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", ServerConfig{Host: "0.0.0.0", Port: 8080}.Addr())
}
