package api

import (
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-governor/internal/command"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/plugin"
)

// RegistryCatalog отдаёт каталог из реестра плагинов и роутера команд.
type RegistryCatalog struct {
	Registry *plugin.Registry
	Router   *command.Router
}

func (c RegistryCatalog) Plugins() []plugin.Info {
	if c.Registry == nil {
		return []plugin.Info{}
	}
	return c.Registry.All()
}

func (c RegistryCatalog) Commands() []command.Info {
	if c.Router == nil {
		return []command.Info{}
	}
	return c.Router.All()
}

// History — последние результаты исполнения, отдельно по плагинам и командам.
func (c RegistryCatalog) History() History {
	h := History{Plugins: []domain.ExecutionResult{}, Commands: []domain.ExecutionResult{}}
	if c.Registry != nil {
		h.Plugins = c.Registry.History()
	}
	if c.Router != nil {
		h.Commands = c.Router.History()
	}
	return h
}

// breaker — то, что есть у плагина под защитой (plugin.Protected)
type breaker interface {
	State() gobreaker.State
}

// Breakers — состояние предохранителей защищённых плагинов, в порядке каталога.
func (c RegistryCatalog) Breakers() []BreakerState {
	out := []BreakerState{}
	if c.Registry == nil {
		return out
	}
	for _, info := range c.Registry.All() {
		capability, ok := c.Registry.Lookup(info.Name)
		if !ok {
			continue
		}
		if b, ok := capability.(breaker); ok {
			out = append(out, BreakerState{Name: info.Name, State: b.State().String()})
		}
	}
	return out
}
