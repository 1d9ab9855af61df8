// Package command — Command Router: привилегированные системные команды.
// Команды никогда не исполняются автоматически: только после явного апрува.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/plugin"
	"go.uber.org/zap"
)

// Command — Capability с перечнем затрагиваемых сервисов.
type Command interface {
	plugin.Capability
	AffectedServices() []string
}

// Info — описание команды для превью и каталога.
type Info struct {
	plugin.Info
	AffectedServices []string `json:"affected_services"`
}

// Router — отдельный реестр для команд поверх plugin.Registry (таймаут, история, коды причин).
type Router struct {
	registry *plugin.Registry

	mu       sync.RWMutex
	commands map[string]Command
	logger   *zap.Logger
}

func NewRouter(timeout time.Duration, logger *zap.Logger) *Router {
	return &Router{
		registry: plugin.NewRegistry("commands", timeout, logger),
		commands: make(map[string]Command),
		logger:   logger.Named("command"),
	}
}

func (r *Router) Register(cmd Command) error {
	if cmd.Kind() != domain.KindSystemCommand {
		return domain.Invalid("command %s must be of kind %s, got %s", cmd.Name(), domain.KindSystemCommand, cmd.Kind())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registry.Register(cmd); err != nil {
		return err
	}
	r.commands[cmd.Name()] = cmd
	return nil
}

func (r *Router) MustRegister(cmds ...Command) {
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			panic(fmt.Sprintf("command: %v", err))
		}
	}
}

func (r *Router) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// AffectedServices — сервисы, которые затронет команда; nil для неизвестного имени.
func (r *Router) AffectedServices(name string) []string {
	c, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	return append([]string(nil), c.AffectedServices()...)
}

// Impact — заявленный уровень риска команды.
func (r *Router) Impact(name string) (domain.ImpactLevel, bool) {
	c, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	return c.Impact(), true
}

func (r *Router) All() []Info {
	catalog := r.registry.All()
	out := make([]Info, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, Info{Info: info, AffectedServices: r.AffectedServices(info.Name)})
	}
	return out
}

// ExecuteCommand исполняет команду. Решение об авторизации и апруве принято выше по стеку.
func (r *Router) ExecuteCommand(ctx context.Context, name string, params domain.Parameters, executionID string) domain.ExecutionResult {
	r.logger.Info("dispatching system command",
		zap.String("command", name),
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("execution_id", executionID),
		zap.Strings("affected", r.AffectedServices(name)),
	)
	return r.registry.ExecuteAction(ctx, name, params, executionID)
}

func (r *Router) History() []domain.ExecutionResult {
	return r.registry.History()
}
