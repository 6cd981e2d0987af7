package collectors

import (
	"testing"
	"time"

	"github.com/smazurov/uvccore/internal/events"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestEventCollectorFrameRate(t *testing.T) {
	bus := events.New()
	c := NewEventCollector(bus)
	c.Start()
	defer c.Stop()

	events.Publish(bus, events.FrameRateEvent{DevicePath: "/dev/video-ec", FPS: 24})

	waitFor(t, "fps gauge", func() bool {
		v, ok := gatheredValue("uvccore_capture_fps", map[string]string{"device": "/dev/video-ec"})
		return ok && v == 24
	})
}

func TestEventCollectorCaptureErrors(t *testing.T) {
	bus := events.New()
	c := NewEventCollector(bus)
	c.Start()
	defer c.Stop()

	events.Publish(bus, events.CaptureErrorEvent{DevicePath: "/dev/video-err", Code: -14})
	events.Publish(bus, events.CaptureErrorEvent{DevicePath: "/dev/video-err", Code: -14})

	waitFor(t, "error counter", func() bool {
		v, ok := gatheredValue("uvccore_capture_errors_total", map[string]string{"device": "/dev/video-err", "code": "-14"})
		return ok && v == 2
	})
}

func TestEventCollectorTracksDevices(t *testing.T) {
	bus := events.New()
	c := NewEventCollector(bus)
	c.Start()
	defer c.Stop()

	events.Publish(bus, events.DeviceDiscoveryEvent{Action: events.ActionAdded, DevicePath: "/dev/video0"})
	events.Publish(bus, events.DeviceDiscoveryEvent{Action: events.ActionAdded, DevicePath: "/dev/video2"})
	waitFor(t, "two devices", func() bool { return c.Devices() == 2 })

	events.Publish(bus, events.DeviceDiscoveryEvent{Action: events.ActionRemoved, DevicePath: "/dev/video0"})
	waitFor(t, "one device", func() bool { return c.Devices() == 1 })

	waitFor(t, "devices gauge", func() bool {
		v, ok := gatheredValue("uvccore_discovery_devices", nil)
		return ok && v == 1
	})
}

func TestEventCollectorStop(t *testing.T) {
	bus := events.New()
	c := NewEventCollector(bus)
	c.Start()
	c.Stop()

	events.Publish(bus, events.DeviceDiscoveryEvent{Action: events.ActionAdded, DevicePath: "/dev/video9"})
	time.Sleep(20 * time.Millisecond)
	if n := c.Devices(); n != 0 {
		t.Errorf("stopped collector tracked %d devices", n)
	}
}
