package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governor/internal/connectors"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

func fastProtect(c Capability, cfg ProtectConfig) *Protected {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	return Protect(c, cfg, zap.NewNop())
}

func TestProtect_RetriesThrottledCalls(t *testing.T) {
	failures := 2
	c := &stubCap{name: "fetchPersona", kind: domain.KindExternalAPI}
	c.run = func(context.Context, domain.Parameters) (any, error) {
		if failures > 0 {
			failures--
			return nil, &connectors.ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("429")}
		}
		return "persona", nil
	}
	p := fastProtect(c, ProtectConfig{Attempts: 3})

	out, err := p.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "persona", out)
	assert.EqualValues(t, 3, c.calls.Load())
}

func TestProtect_ValidationErrorsAreNotRetried(t *testing.T) {
	c := &stubCap{name: "callConnector", run: func(context.Context, domain.Parameters) (any, error) {
		return nil, domain.Invalid("method is required")
	}}
	p := fastProtect(c, ProtectConfig{Attempts: 3, Failures: 1})

	_, err := p.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.EqualValues(t, 1, c.calls.Load())
	// и не размыкают предохранитель
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestProtect_CircuitOpens(t *testing.T) {
	c := &stubCap{name: "callConnector", run: func(context.Context, domain.Parameters) (any, error) {
		return nil, &connectors.ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("unavailable")}
	}}
	var transitions []gobreaker.State
	p := fastProtect(c, ProtectConfig{Attempts: 1, Failures: 2, OnStateChange: func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}})

	for i := 0; i < 2; i++ {
		_, err := p.Execute(context.Background(), nil)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := p.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.EqualValues(t, 2, c.calls.Load())
}

func TestProtect_KeepsIdentity(t *testing.T) {
	c := &stubCap{name: "fetchPersona", kind: domain.KindExternalAPI}
	p := fastProtect(c, ProtectConfig{})
	assert.Equal(t, "fetchPersona", p.Name())
	assert.Equal(t, domain.KindExternalAPI, p.Kind())

	r := NewRegistry("plugins", time.Second, zap.NewNop())
	r.MustRegister(p)
	res := r.ExecuteAction(context.Background(), "fetchPersona", nil, "e1")
	assert.True(t, res.Success)
}
