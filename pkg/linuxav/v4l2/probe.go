//go:build linux

package v4l2

import (
	"unsafe"
)

// DeviceInfo is the identity a device node reports through QUERYCAP.
type DeviceInfo struct {
	Path    string
	Driver  string
	Card    string
	BusInfo string
	Version uint32
	Caps    uint32
}

// CanCapture reports whether the node supports streaming video capture.
func (d DeviceInfo) CanCapture() bool {
	return d.Caps&CapVideoCapture != 0 && d.Caps&CapStreaming != 0
}

// KernelVersion renders the driver version as major.minor.patch.
func (d DeviceInfo) KernelVersion() [3]uint32 {
	return [3]uint32{d.Version >> 16, (d.Version >> 8) & 0xff, d.Version & 0xff}
}

// QueryDevice opens path, reads its capabilities and closes it. Unlike Open
// it does not enumerate formats or controls and does not reject nodes that
// cannot capture.
func QueryDevice(path string, opts ...Option) (DeviceInfo, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("device", path)
	gw := &gateway{backend: o.backend, attempts: o.attempts, logger: logger, observer: o.observer}

	fd, err := o.backend.Open(path)
	if err != nil {
		return DeviceInfo{}, newError("open", CodeDevice, err)
	}
	defer o.backend.Close(fd)

	var cp v4l2Capability
	if err := gw.perform(fd, vidiocQuerycap, unsafe.Pointer(&cp)); err != nil {
		return DeviceInfo{}, newError("query capabilities", CodeQueryCap, err)
	}
	return DeviceInfo{
		Path:    path,
		Driver:  cstr(cp.driver[:]),
		Card:    cstr(cp.card[:]),
		BusInfo: cstr(cp.busInfo[:]),
		Version: cp.version,
		Caps:    cp.effectiveCaps(),
	}, nil
}
