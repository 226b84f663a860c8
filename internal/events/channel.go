package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T into ch. A full channel drops
// the event rather than blocking the publisher, which may be the compositor
// loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Subscriptions collects unsubscribe functions so a stream handler can
// release all of them at once.
type Subscriptions []func()

// Close unsubscribes everything.
func (s Subscriptions) Close() {
	for _, unsub := range s {
		unsub()
	}
}
