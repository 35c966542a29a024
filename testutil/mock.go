package testutil

import (
	"context"
	"sync"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/component"
)

// MockHandler is a port-less handler with pluggable hooks and call counts.
type MockHandler struct {
	component.Base

	mu sync.Mutex

	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
	ProcessFunc func(ctx context.Context, tick clock.TimedTick) error

	StartCalls   int
	StopCalls    int
	ProcessCalls int
	Ticks        []clock.TimedTick
}

// NewMockHandler creates a mock whose hooks all succeed.
func NewMockHandler(id string) *MockHandler {
	return &MockHandler{Base: component.NewBase(id, "mock")}
}

// OnStart implements component.Starter.
func (m *MockHandler) OnStart(ctx context.Context) error {
	m.mu.Lock()
	m.StartCalls++
	fn := m.StartFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// OnStop implements component.Stopper.
func (m *MockHandler) OnStop(ctx context.Context) error {
	m.mu.Lock()
	m.StopCalls++
	fn := m.StopFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// Process implements component.Handler.
func (m *MockHandler) Process(ctx context.Context, tick clock.TimedTick) error {
	m.mu.Lock()
	m.ProcessCalls++
	m.Ticks = append(m.Ticks, tick)
	fn := m.ProcessFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, tick)
	}
	return nil
}

// Calls returns the start, process and stop call counts.
func (m *MockHandler) Calls() (start, process, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartCalls, m.ProcessCalls, m.StopCalls
}

// ReceivedTicks returns a copy of every tick passed to Process.
func (m *MockHandler) ReceivedTicks() []clock.TimedTick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]clock.TimedTick(nil), m.Ticks...)
}
