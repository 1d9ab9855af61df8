package permission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"go.uber.org/zap"
)

// RedisNotifier публикует "instance:user" в канал обновления прав.
type RedisNotifier struct {
	rdb      *redis.Client
	instance string
}

func NewRedisNotifier(rdb *redis.Client, instance string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, instance: instance}
}

func (n *RedisNotifier) PermissionsChanged(ctx context.Context, user string) error {
	if err := n.rdb.Publish(ctx, infra.RedisChanPermissionUpdate, n.instance+":"+user).Err(); err != nil {
		return fmt.Errorf("publish permission update: %w", err)
	}
	return nil
}

// Listen — «живучая» подписка на изменения прав от других инстансов.
// При каждом (пере)подключении состояние перечитывается целиком.
func (g *Gate) Listen(ctx context.Context, rdb *redis.Client, instance string) {
	channel := infra.RedisChanPermissionUpdate
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if err := g.Load(ctx); err != nil {
			g.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // канал закрыт, идём на переподключение
				}
				origin, user, found := strings.Cut(msg.Payload, ":")
				if !found || user == "" {
					g.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				if origin == instance {
					continue // своё изменение уже применено
				}
				if err := g.Refresh(ctx, user); err != nil {
					g.logger.Error("permission refresh failed", zap.String("user", user), zap.Error(err))
				}
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
