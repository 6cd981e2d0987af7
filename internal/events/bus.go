// Package events is the in-process event bus shared by the capture runner,
// device discovery, metrics and the daemon.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Handlers run asynchronously and
// must not assume they execute on the publisher's goroutine.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish sends ev to every subscriber of its type. A nil bus drops the event.
//
//	events.Publish(bus, events.FrameRateEvent{DevicePath: "/dev/video0", FPS: 30})
func Publish[T Event](b *Bus, ev T) {
	if b == nil {
		return
	}
	event.Publish(b.dispatcher, ev)
}

// Subscribe registers handler for events of type T and returns the
// unsubscribe function. Subscribing to a nil bus is a no-op.
//
//	unsub := events.Subscribe(bus, func(e events.DeviceDiscoveryEvent) { ... })
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	if b == nil {
		return func() {}
	}
	return event.Subscribe(b.dispatcher, handler)
}

// SubscribeToChannel forwards events of type T into ch without blocking.
// Events are dropped while ch is full.
func SubscribeToChannel[T Event](b *Bus, ch chan<- T) func() {
	if b == nil {
		return func() {}
	}
	return event.Subscribe(b.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
