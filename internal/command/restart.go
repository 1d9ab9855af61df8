package command

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"go.uber.org/zap"
)

var agentID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// Signaler доставляет сигнал перезапуска рантайму агентов.
type Signaler interface {
	Signal(ctx context.Context, sig RestartSignal) error
}

type RestartSignal struct {
	Agent       string    `json:"agent"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy string    `json:"requested_by"`
	At          time.Time `json:"at"`
}

// RedisSignaler публикует сигнал в канал рантайма.
type RedisSignaler struct {
	rdb *redis.Client
}

func NewRedisSignaler(rdb *redis.Client) *RedisSignaler {
	return &RedisSignaler{rdb: rdb}
}

func (s *RedisSignaler) Signal(ctx context.Context, sig RestartSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, infra.RedisChanAgentRestart, payload).Err()
}

// LogSignaler — режим без Redis: сигнал только логируется.
type LogSignaler struct {
	Logger *zap.Logger
}

func (s LogSignaler) Signal(_ context.Context, sig RestartSignal) error {
	s.Logger.Warn("restart signal (no runtime bus configured)",
		zap.String("agent", sig.Agent), zap.String("by", sig.RequestedBy))
	return nil
}

// RestartAgent — restartAgent: перезапуск агента через шину сигналов.
type RestartAgent struct {
	signaler Signaler
	now      func() time.Time
}

func NewRestartAgent(s Signaler) *RestartAgent {
	return &RestartAgent{signaler: s, now: time.Now}
}

func (*RestartAgent) Name() string               { return domain.ActionRestartAgent }
func (*RestartAgent) Kind() domain.ActionKind    { return domain.KindSystemCommand }
func (*RestartAgent) Impact() domain.ImpactLevel { return domain.ImpactCritical }
func (*RestartAgent) Description() string        { return "Restart an agent runtime" }
func (*RestartAgent) AffectedServices() []string { return []string{"agent-runtime"} }

func (*RestartAgent) Validate(p domain.Parameters) error {
	id, ok := p.String("agent")
	if !ok || !agentID.MatchString(id) {
		return domain.Invalid("agent must match %s", agentID)
	}
	return nil
}

func (c *RestartAgent) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	id, _ := p.String("agent")
	reason, _ := p.String("reason")
	sig := RestartSignal{
		Agent:       id,
		Reason:      reason,
		RequestedBy: domain.ActorFromContext(ctx),
		At:          c.now().UTC(),
	}
	if err := c.signaler.Signal(ctx, sig); err != nil {
		return nil, fmt.Errorf("%w: restart signal for %s: %v", domain.ErrExecution, id, err)
	}
	return map[string]any{"agent": id, "status": "restart_requested"}, nil
}
