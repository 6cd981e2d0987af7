//go:build linux

// Package hotplug watches kernel uevents over netlink so capture devices can
// be picked up and dropped as they are plugged in and removed.
package hotplug

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Action constants for device events.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystem names relevant to capture devices.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemUSB         = "usb"
)

// Event represents a kernel device event.
type Event struct {
	Action    string            // "add", "remove", "change", etc.
	KObj      string            // Kernel object path: /devices/pci0000:00/...
	Subsystem string            // "video4linux", "usb", ...
	DevType   string            // Device type if available
	DevName   string            // Device name relative to /dev (e.g., "video0")
	DevPath   string            // sysfs path without the /sys prefix
	Env       map[string]string // All environment variables from the event
}

// DeviceNode returns the /dev path of the event's device, or "".
func (e *Event) DeviceNode() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// IsVideoNode reports whether the event concerns a /dev/videoN node.
func (e *Event) IsVideoNode() bool {
	return e.Subsystem == SubsystemVideo4Linux && strings.HasPrefix(strings.TrimPrefix(e.DevName, "/dev/"), "video")
}

// USBProduct parses the PRODUCT variable of a usb_device event ("vid/pid/bcd", hex).
func (e *Event) USBProduct() (vendor, product uint16, ok bool) {
	parts := strings.Split(e.Env["PRODUCT"], "/")
	if len(parts) < 2 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(p), true
}

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd        int
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = unix.NETLINK_KOBJECT_UEVENT

// NewMonitor opens a netlink socket bound to the kernel broadcast group.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Receive times out so Run can observe cancellation.
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Monitor{
		fd:      fd,
		filters: make(map[string]struct{}),
	}, nil
}

// AddSubsystemFilter adds a subsystem filter. Only events from matching
// subsystems will be returned. If no filters are added, all events pass through.
// This method is safe for concurrent use.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

// Accepts reports whether an event passes the subsystem filters.
func (m *Monitor) Accepts(e *Event) bool {
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	_, ok := m.filters[e.Subsystem]
	return ok
}

// Close releases the monitor resources.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run starts the monitor and sends events to the provided channel.
// It blocks until the context is cancelled or an error occurs.
// The events channel is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 8192)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		event := ParseUEvent(buf[:n])
		if event == nil || !m.Accepts(event) {
			continue
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// libudev rebroadcast header: "libudev\0", big-endian magic, then host-order
// header_size, properties_off and properties_len.
const (
	libudevMagic     = 0xfeedcafe
	libudevHeaderLen = 24
)

// ParseUEvent parses a kernel uevent message.
// Format: "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0..."
// libudev rebroadcasts are accepted as well; they carry only properties.
func ParseUEvent(data []byte) *Event {
	if len(data) == 0 {
		return nil
	}
	if bytes.HasPrefix(data, []byte("libudev\x00")) {
		return parseLibudev(data)
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	action, kobj, found := strings.Cut(header, "@")
	if !found || action == "" {
		return nil
	}

	event := &Event{
		Action: action,
		KObj:   kobj,
		Env:    make(map[string]string),
	}
	event.setProperties(parts[1:])
	return event
}

func parseLibudev(data []byte) *Event {
	if len(data) < libudevHeaderLen || binary.BigEndian.Uint32(data[8:12]) != libudevMagic {
		return nil
	}
	off := int(binary.NativeEndian.Uint32(data[16:20]))
	n := int(binary.NativeEndian.Uint32(data[20:24]))
	if off < libudevHeaderLen || n <= 0 || off > len(data) || n > len(data)-off {
		return nil
	}

	event := &Event{Env: make(map[string]string)}
	event.setProperties(bytes.Split(data[off:off+n], []byte{0}))
	event.Action = event.Env["ACTION"]
	event.KObj = event.Env["DEVPATH"]
	if event.Action == "" {
		return nil
	}
	return event
}

func (e *Event) setProperties(parts [][]byte) {
	for _, part := range parts {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		e.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			e.Subsystem = value
		case "DEVTYPE":
			e.DevType = value
		case "DEVNAME":
			e.DevName = value
		case "DEVPATH":
			e.DevPath = value
		}
	}
}
