package connectors

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExecuteMethod — метод удалённого коннектора. Запрос и ответ — google.protobuf.Struct:
// запрос {capability_id, payload, metadata}, ответ {status_code, error_message, result}.
const ExecuteMethod = "/connector.v1.ConnectorService/Execute"

// GRPCConnector вызывает удалённые возможности через gRPC-коннектор.
type GRPCConnector struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	closer  func() error
}

// DialGRPCConnector создаёт клиентское соединение (ленивое, без блокирующего dial).
func DialGRPCConnector(addr string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCConnector, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc connector %s: %w", addr, err)
	}
	c := NewGRPCConnector(conn, timeout)
	c.closer = conn.Close
	return c, nil
}

func NewGRPCConnector(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCConnector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GRPCConnector{conn: conn, timeout: timeout}
}

func (c *GRPCConnector) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Call исполняет capabilityID на коннекторе и возвращает result как map.
func (c *GRPCConnector) Call(ctx context.Context, capabilityID string, payload map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(map[string]any{
		"capability_id": capabilityID,
		"payload":       payload,
		"metadata":      map[string]any{"source": "governor"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// Даже если снаружи есть свой таймаут, у вызова должен быть предел
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ExecuteMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.ResourceExhausted, codes.Unavailable:
			return nil, &ThrottleError{RetryAfter: defaultRetryAfter, Cause: fmt.Errorf("%w: %v", ErrUpstream, err)}
		case codes.DeadlineExceeded:
			return nil, fmt.Errorf("connector call timed out: %w", context.DeadlineExceeded)
		default:
			return nil, fmt.Errorf("connector call failed: %v", err)
		}
	}

	fields := resp.AsMap()
	if code, _ := fields["status_code"].(float64); code != 0 {
		msg, _ := fields["error_message"].(string)
		return nil, fmt.Errorf("connector returned error [%d]: %s", int(code), msg)
	}
	result, _ := fields["result"].(map[string]any)
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}
