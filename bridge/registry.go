package bridge

import (
	"fmt"
	"sync"

	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/errors"
)

// Bridge is a handler with one input accepting the source capability and
// one output producing the destination capability.
type Bridge interface {
	component.Handler
	In() component.Input
	Out() component.Output
}

// Factory builds a bridge for data leaving src. Implementations create their
// ports with src.Mirror so the element type is preserved.
type Factory func(src component.Output, from, to component.Capability) (Bridge, error)

// Pair is an ordered capability pair.
type Pair struct {
	From component.Capability `json:"from"`
	To   component.Capability `json:"to"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s->%s", p.From, p.To)
}

// Registry maps capability pairs to bridge factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Pair]Factory
	order     []Pair
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Pair]Factory)}
}

// NewDefaultRegistry registers passthrough transfers between cpu and gpu.
// Backends that move real memory register their own factories instead.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(component.CPU, component.GPU, Passthrough())
	_ = r.Register(component.GPU, component.CPU, Passthrough())
	return r
}

// Register adds a factory for from->to. A pair can be registered once.
func (r *Registry) Register(from, to component.Capability, f Factory) error {
	if from == "" || to == "" || from == to {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q -> %q", errors.ErrUnknownCapability, from, to), "Registry", "Register", "pair validation")
	}
	if f == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}

	pair := Pair{From: from, To: to}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[pair]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateBridge, pair), "Registry", "Register", "duplicate check")
	}
	r.factories[pair] = f
	r.order = append(r.order, pair)
	return nil
}

// Lookup returns the factory registered for from->to.
func (r *Registry) Lookup(from, to component.Capability) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[Pair{From: from, To: to}]
	return f, ok
}

// Find walks offers x accepts in declared order and returns the first pair
// with a registered factory.
func (r *Registry) Find(offers, accepts component.Capabilities) (Pair, Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, from := range offers {
		for _, to := range accepts {
			pair := Pair{From: from, To: to}
			if f, ok := r.factories[pair]; ok {
				return pair, f, true
			}
		}
	}
	return Pair{}, nil, false
}

// Pairs returns the registered pairs in registration order.
func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Pair(nil), r.order...)
}
