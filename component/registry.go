package component

import (
	"fmt"
	"sync"

	"github.com/tatolab/streamlib-sub000/errors"
)

// Registry holds a runtime's runners by handler ID, in registration order,
// and tracks which handler owns each port. A handler instance is identified
// by its port map.
type Registry struct {
	mu        sync.RWMutex
	runners   map[string]*Runner
	order     []string
	handlers  map[*Ports]string
	outOwners map[Output]string
	inOwners  map[Input]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runners:   make(map[string]*Runner),
		handlers:  make(map[*Ports]string),
		outOwners: make(map[Output]string),
		inOwners:  make(map[Input]string),
	}
}

// Register adds r. The handler ID must be unique, the handler instance must
// not already be registered here or owned by a runner elsewhere, and none of
// its ports may belong to another handler.
func (reg *Registry) Register(r *Runner) error {
	if r == nil {
		return errors.WrapInvalid(errors.ErrNilHandler, "Registry", "Register", "runner validation")
	}
	id := r.ID()
	if id == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "handler id validation")
	}
	h := r.Handler()
	if h.Ports() == nil {
		return errors.WrapInvalid(errors.ErrPortNotFound, "Registry", "Register", "port map validation")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.runners[id]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateHandler, id), "Registry", "Register", "duplicate id check")
	}
	if prev, exists := reg.handlers[h.Ports()]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: handler instance already registered as %s", errors.ErrDuplicateHandler, prev),
			"Registry", "Register", "duplicate handler check")
	}
	if err := reg.checkPortConflicts(h); err != nil {
		return err
	}
	if err := r.claim(); err != nil {
		return errors.Wrap(err, "Registry", "Register", "claim "+id)
	}

	reg.runners[id] = r
	reg.order = append(reg.order, id)
	reg.handlers[h.Ports()] = id
	for _, out := range h.Ports().Outputs() {
		reg.outOwners[out] = id
	}
	for _, in := range h.Ports().Inputs() {
		reg.inOwners[in] = id
	}
	return nil
}

// checkPortConflicts must be called with the write lock held.
func (reg *Registry) checkPortConflicts(h Handler) error {
	for _, out := range h.Ports().Outputs() {
		if owner, ok := reg.outOwners[out]; ok {
			return errors.WrapInvalid(
				fmt.Errorf("output %s already owned by %s", out.Name(), owner), "Registry", "Register", "port ownership check")
		}
	}
	for _, in := range h.Ports().Inputs() {
		if owner, ok := reg.inOwners[in]; ok {
			return errors.WrapInvalid(
				fmt.Errorf("input %s already owned by %s", in.Name(), owner), "Registry", "Register", "port ownership check")
		}
	}
	return nil
}

// Unregister removes the runner for id.
func (reg *Registry) Unregister(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.runners[id]
	if !ok {
		return
	}
	if r.State() == StateInert {
		r.release()
	}
	h := r.Handler()
	for _, out := range h.Ports().Outputs() {
		delete(reg.outOwners, out)
	}
	for _, in := range h.Ports().Inputs() {
		delete(reg.inOwners, in)
	}
	delete(reg.handlers, h.Ports())
	delete(reg.runners, id)
	for i, v := range reg.order {
		if v == id {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
}

// Get returns the runner for id.
func (reg *Registry) Get(id string) (*Runner, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runners[id]
	return r, ok
}

// Runners returns all runners in registration order.
func (reg *Registry) Runners() []*Runner {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Runner, 0, len(reg.order))
	for _, id := range reg.order {
		out = append(out, reg.runners[id])
	}
	return out
}

// Len returns the number of registered runners.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.order)
}

// OutputOwner returns the ID of the handler that declared out.
func (reg *Registry) OutputOwner(out Output) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	id, ok := reg.outOwners[out]
	return id, ok
}

// InputOwner returns the ID of the handler that declared in.
func (reg *Registry) InputOwner(in Input) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	id, ok := reg.inOwners[in]
	return id, ok
}
