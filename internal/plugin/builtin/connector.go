package builtin

import (
	"context"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

// ConnectorCaller — удалённый коннектор (connectors.GRPCConnector).
type ConnectorCaller interface {
	Call(ctx context.Context, capabilityID string, payload map[string]any) (map[string]any, error)
}

// Connector — callConnector: пробрасывает параметры в удалённую возможность.
type Connector struct {
	caller ConnectorCaller
}

func NewConnector(caller ConnectorCaller) *Connector {
	return &Connector{caller: caller}
}

func (*Connector) Name() string               { return domain.ActionCallConnector }
func (*Connector) Kind() domain.ActionKind    { return domain.KindExternalAPI }
func (*Connector) Impact() domain.ImpactLevel { return domain.ImpactMedium }
func (*Connector) Description() string        { return "Invoke a capability on the remote connector service" }

func (*Connector) Validate(p domain.Parameters) error {
	if id, ok := p.String("capability"); !ok || id == "" {
		return domain.Invalid("capability is required")
	}
	if v, ok := p["payload"]; ok && v != nil {
		if _, isMap := v.(map[string]any); !isMap {
			return domain.Invalid("payload must be an object")
		}
	}
	return nil
}

func (c *Connector) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	id, _ := p.String("capability")
	payload, _ := p["payload"].(map[string]any)
	return c.caller.Call(ctx, id, payload)
}
