package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Handlers run asynchronously on the
// dispatcher's goroutines, so publishers never wait for subscribers.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes an event to all subscribers of its concrete type.
// A nil bus discards events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case EngineStateEvent:
		event.Publish(b.dispatcher, e)
	case SceneSwitchedEvent:
		event.Publish(b.dispatcher, e)
	case TransitionStartedEvent:
		event.Publish(b.dispatcher, e)
	case SourceStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case OutputStatusChangedEvent:
		event.Publish(b.dispatcher, e)
	case OverlayChangedEvent:
		event.Publish(b.dispatcher, e)
	case DisplayChangedEvent:
		event.Publish(b.dispatcher, e)
	case VolmeterEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a typed handler, e.g. func(SceneSwitchedEvent).
// Unknown handler types get a no-op unsubscribe.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(EngineStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SceneSwitchedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TransitionStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputStatusChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OverlayChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DisplayChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(VolmeterEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
