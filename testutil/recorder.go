package testutil

import (
	"context"
	"sync"

	"github.com/tatolab/streamlib-sub000/eventbus"
)

// EventRecorder collects every event of the given kinds published on a bus.
type EventRecorder struct {
	mu     sync.RWMutex
	events map[eventbus.Kind][]eventbus.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventRecorder subscribes to kinds on bus and starts recording.
func NewEventRecorder(bus *eventbus.Bus, kinds ...eventbus.Kind) (*EventRecorder, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &EventRecorder{
		events: make(map[eventbus.Kind][]eventbus.Event),
		cancel: cancel,
	}

	subs := make([]*eventbus.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		sub, err := bus.Subscribe(kind)
		if err != nil {
			cancel()
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		r.wg.Add(1)
		go r.record(ctx, sub)
	}
	return r, nil
}

func (r *EventRecorder) record(ctx context.Context, sub *eventbus.Subscription) {
	defer r.wg.Done()
	defer sub.Unsubscribe()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.events[ev.Kind()] = append(r.events[ev.Kind()], ev)
		r.mu.Unlock()
	}
}

// Events returns a copy of the recorded events of kind.
func (r *EventRecorder) Events(kind eventbus.Kind) []eventbus.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]eventbus.Event(nil), r.events[kind]...)
}

// Count returns the number of recorded events of kind.
func (r *EventRecorder) Count(kind eventbus.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events[kind])
}

// Errors returns the recorded error events.
func (r *EventRecorder) Errors() []eventbus.ErrorEvent {
	var out []eventbus.ErrorEvent
	for _, ev := range r.Events(eventbus.KindError) {
		if e, ok := ev.(eventbus.ErrorEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

// Stop ends recording and waits for the recording goroutines.
func (r *EventRecorder) Stop() {
	r.cancel()
	r.wg.Wait()
}
