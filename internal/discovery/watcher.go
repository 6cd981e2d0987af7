//go:build linux

package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/pkg/linuxav/hotplug"
)

// DefaultSettle is how long an added node gets before it is probed.
// udev applies permissions and symlinks after the kernel uevent.
const DefaultSettle = time.Second

// Watcher keeps the device set current and publishes changes on the bus.
type Watcher struct {
	scanner *Scanner
	bus     *events.Bus
	logger  *slog.Logger
	settle  time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	known map[string]Device
}

// NewWatcher creates a watcher publishing DeviceDiscoveryEvent on bus.
func NewWatcher(scanner *Scanner, bus *events.Bus) *Watcher {
	return &Watcher{
		scanner: scanner,
		bus:     bus,
		logger:  logging.GetLogger(logging.ModuleDiscovery),
		settle:  DefaultSettle,
		now:     time.Now,
		known:   make(map[string]Device),
	}
}

// SetSettle changes the delay before probing a newly added node.
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// Devices returns the current device set ordered by path.
func (w *Watcher) Devices() []Device {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Device, 0, len(w.known))
	for _, d := range w.known {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return nodeNumber(out[i].Path) < nodeNumber(out[j].Path)
	})
	return out
}

// Device returns a known device by node path.
func (w *Watcher) Device(path string) (Device, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.known[path]
	return d, ok
}

// Run opens a uevent monitor and follows it until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	mon, err := hotplug.NewMonitor()
	if err != nil {
		return err
	}
	defer mon.Close()
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	ch := make(chan hotplug.Event, 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx, ch) })
	g.Go(func() error { return w.Watch(gctx, ch) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Watch publishes the initial device set, then rescans on every video node
// uevent until ctx is cancelled or in is closed.
func (w *Watcher) Watch(ctx context.Context, in <-chan hotplug.Event) error {
	if err := w.Refresh(); err != nil {
		w.logger.Warn("Initial device scan failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if !ev.IsVideoNode() {
				continue
			}
			w.logger.Debug("Video node uevent", "action", ev.Action, "node", ev.DeviceNode())
			if ev.Action == hotplug.ActionAdd && w.settle > 0 {
				select {
				case <-time.After(w.settle):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := w.Refresh(); err != nil {
				w.logger.Warn("Device rescan failed", "error", err)
			}
		}
	}
}

// Refresh rescans and publishes added, removed and changed devices.
func (w *Watcher) Refresh() error {
	current, err := w.scanner.Scan()
	if err != nil {
		return err
	}

	next := make(map[string]Device, len(current))
	for _, d := range current {
		next[d.Path] = d
	}

	w.mu.Lock()
	var changes []events.DeviceDiscoveryEvent
	for path, old := range w.known {
		if _, ok := next[path]; !ok {
			changes = append(changes, w.event(events.ActionRemoved, old))
		}
	}
	for _, d := range current {
		old, ok := w.known[d.Path]
		switch {
		case !ok:
			changes = append(changes, w.event(events.ActionAdded, d))
		case old != d:
			changes = append(changes, w.event(events.ActionChanged, d))
		}
	}
	w.known = next
	w.mu.Unlock()

	for _, ev := range changes {
		w.logger.Info("Capture device "+ev.Action, "device", ev.DevicePath, "name", ev.Name)
		events.Publish(w.bus, ev)
	}
	return nil
}

func (w *Watcher) event(action string, d Device) events.DeviceDiscoveryEvent {
	return events.DeviceDiscoveryEvent{
		Action:     action,
		DevicePath: d.Path,
		Name:       d.DisplayName(),
		Driver:     d.Driver,
		BusInfo:    d.BusInfo,
		VendorID:   d.VendorID,
		ProductID:  d.ProductID,
		Timestamp:  events.Timestamp(w.now()),
	}
}
