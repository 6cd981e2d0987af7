package collectors

import (
	"strconv"
	"sync"

	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/internal/metrics"
)

// EventCollector mirrors bus events into metrics: measured frame rate,
// capture errors and the number of present devices.
type EventCollector struct {
	bus    *events.Bus
	unsubs []func()

	mu      sync.Mutex
	devices map[string]struct{}
}

// NewEventCollector creates a collector for bus.
func NewEventCollector(bus *events.Bus) *EventCollector {
	return &EventCollector{
		bus:     bus,
		devices: make(map[string]struct{}),
	}
}

// Start subscribes to the bus.
func (c *EventCollector) Start() {
	c.unsubs = append(c.unsubs,
		events.Subscribe(c.bus, c.onFrameRate),
		events.Subscribe(c.bus, c.onCaptureError),
		events.Subscribe(c.bus, c.onDiscovery),
	)
}

// Stop unsubscribes from the bus.
func (c *EventCollector) Stop() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

func (c *EventCollector) onFrameRate(e events.FrameRateEvent) {
	metrics.SetCaptureFPS(e.DevicePath, e.FPS)
}

func (c *EventCollector) onCaptureError(e events.CaptureErrorEvent) {
	metrics.IncCaptureError(e.DevicePath, strconv.Itoa(e.Code))
}

func (c *EventCollector) onDiscovery(e events.DeviceDiscoveryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Action {
	case events.ActionAdded, events.ActionChanged:
		c.devices[e.DevicePath] = struct{}{}
	case events.ActionRemoved:
		delete(c.devices, e.DevicePath)
		metrics.DeleteDeviceMetrics(e.DevicePath)
	}
	metrics.SetDevicesPresent(len(c.devices))
}

// Devices returns the number of devices currently tracked.
func (c *EventCollector) Devices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}
