// Package eventbus is the runtime's only fan-out mechanism.
//
// Ticks, handler errors and lifecycle transitions all travel through a Bus.
// Every Subscribe creates one bounded queue (DefaultCapacity events) for one
// Kind. Publish makes a non-blocking attempt on each queue of the event's
// kind; a full queue drops the event for that subscriber only and counts the
// drop. Correctness never waits for a slow consumer.
//
//	bus := eventbus.New(eventbus.WithCapacity(8))
//	sub, _ := bus.Subscribe(eventbus.KindTick)
//	defer sub.Unsubscribe()
//
//	for {
//	    ev, err := sub.Next(ctx)
//	    if err != nil {
//	        return // cancelled or unsubscribed
//	    }
//	    tick := ev.(eventbus.TickEvent).Tick
//	    ...
//	}
//
// Clear removes every subscriber at shutdown; their consumers return
// ErrSubscriptionClosed instead of hanging. A cleared bus accepts no new
// subscriptions and ignores publishes.
package eventbus
