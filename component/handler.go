package component

import (
	"context"

	"github.com/google/uuid"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/resource"
)

// Handler is a processing unit driven by the runtime clock.
//
// Process is called once per received tick, never concurrently with itself.
// An error or panic is reported as an ErrorEvent and the handler keeps
// receiving ticks.
type Handler interface {
	ID() string
	Ports() *Ports
	Process(ctx context.Context, tick clock.TimedTick) error
}

// Starter is implemented by handlers that need setup on the run-loop
// before the first tick.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is implemented by handlers that release state when deactivated.
// ctx is cancelled if the shutdown grace period expires.
type Stopper interface {
	OnStop(ctx context.Context) error
}

// ResourceUser is implemented by handlers that use runtime-owned resources.
// BindResources is called once, when the handler is added to a runtime.
type ResourceUser interface {
	BindResources(rc *resource.Context) error
}

// Base carries the ID and port map for Handler implementations to embed.
type Base struct {
	id    string
	ports *Ports
}

// NewBase creates a Base. An empty id is replaced by prefix-<short uuid>.
func NewBase(id, prefix string) Base {
	if id == "" {
		if prefix == "" {
			prefix = "handler"
		}
		id = prefix + "-" + uuid.NewString()[:8]
	}
	return Base{id: id, ports: NewPorts()}
}

// ID implements Handler.
func (b Base) ID() string { return b.id }

// Ports implements Handler.
func (b Base) Ports() *Ports { return b.ports }
