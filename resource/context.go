// Package resource holds native resource handles owned by a runtime.
package resource

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/tatolab/streamlib-sub000/errors"
)

// Context is a per-runtime registry of shared handles such as GPU devices,
// frame pools or decoder sessions. It replaces process-wide singletons:
// handlers that implement component.ResourceUser receive the runtime's
// Context, and every handle that implements io.Closer is closed when the
// runtime stops.
type Context struct {
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]any
	order   []string
	closed  bool
}

// NewContext creates an empty resource context.
func NewContext(logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		logger:  logger.With("component", "resource"),
		handles: make(map[string]any),
	}
}

// Register adds a named handle. Names are unique for the life of the context.
func (c *Context) Register(name string, handle any) error {
	if name == "" || handle == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Context", "Register", "name and handle validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Context", "Register", "context state check")
	}
	if _, exists := c.handles[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("resource %q already registered", name), "Context", "Register", "duplicate check")
	}

	c.handles[name] = handle
	c.order = append(c.order, name)
	c.logger.Debug("resource registered", "resource", name, "type", fmt.Sprintf("%T", handle))
	return nil
}

// Lookup returns the handle registered under name.
func (c *Context) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[name]
	return h, ok
}

// Names returns the registered names, sorted.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	return names
}

// Close releases handles in reverse registration order. Errors from
// individual handles are joined. Idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	order := c.order
	handles := c.handles
	c.order = nil
	c.handles = make(map[string]any)
	c.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		closer, ok := handles[name].(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			c.logger.Warn("resource close failed", "resource", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Context", "Close", "release resources")
	}
	return nil
}

// Get returns the handle registered under name as a T.
func Get[T any](c *Context, name string) (T, error) {
	var zero T
	h, ok := c.Lookup(name)
	if !ok {
		return zero, errors.Wrap(
			fmt.Errorf("%w: %s", errors.ErrResourceNotFound, name), "resource", "Get", "lookup")
	}
	v, ok := h.(T)
	if !ok {
		return zero, errors.WrapInvalid(
			fmt.Errorf("resource %s is %T, want %T", name, h, zero), "resource", "Get", "type assertion")
	}
	return v, nil
}
