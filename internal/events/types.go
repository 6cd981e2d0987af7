package events

import "time"

// Event type identifiers for kelindar/event.
const (
	TypeStreamStateChanged uint32 = iota + 1
	TypeFormatCommitted
	TypeControlChanged
	TypeDeviceDiscovery
	TypeCaptureError
	TypeFrameRate
)

// Event is the interface kelindar/event dispatches on.
type Event interface {
	Type() uint32
}

// Discovery actions.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionChanged = "changed"
)

// Timestamp formats t the way every event carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StreamStateChangedEvent is published on every stream state transition.
type StreamStateChangedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0"`
	State      string `json:"state" example:"active"`
	Previous   string `json:"previous" example:"stopped"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// FormatCommittedEvent reports the format the driver accepted.
type FormatCommittedEvent struct {
	DevicePath   string  `json:"device_path" example:"/dev/video0"`
	Requested    string  `json:"requested" example:"H264"`
	FourCC       string  `json:"fourcc" example:"MJPG"`
	Width        uint32  `json:"width" example:"1280"`
	Height       uint32  `json:"height" example:"720"`
	BytesPerLine uint32  `json:"bytes_per_line"`
	SizeImage    uint32  `json:"size_image"`
	FPS          float64 `json:"fps" example:"30"`
	Buffers      int     `json:"buffers" example:"4"`
	Timestamp    string  `json:"timestamp"`
}

// Type returns the event type identifier for FormatCommittedEvent.
func (e FormatCommittedEvent) Type() uint32 { return TypeFormatCommitted }

// Substituted reports whether the driver got a different pixel format than requested.
func (e FormatCommittedEvent) Substituted() bool {
	return e.Requested != "" && e.Requested != e.FourCC
}

// Control change sources.
const (
	SourceKernel = "kernel"
	SourceConfig = "config"
)

// ControlChangedEvent reports a control value change, either from a kernel
// control event or from a value the daemon applied.
type ControlChangedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0"`
	ControlID  uint32 `json:"control_id" example:"9963776"`
	Name       string `json:"name" example:"Brightness"`
	Value      int64  `json:"value" example:"128"`
	Source     string `json:"source" example:"kernel"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for ControlChangedEvent.
func (e ControlChangedEvent) Type() uint32 { return TypeControlChanged }

// DeviceDiscoveryEvent represents capture device hotplug.
type DeviceDiscoveryEvent struct {
	Action     string `json:"action" example:"added"`
	DevicePath string `json:"device_path" example:"/dev/video0"`
	Name       string `json:"name" example:"HD Pro Webcam C920"`
	Driver     string `json:"driver" example:"uvcvideo"`
	BusInfo    string `json:"bus_info" example:"usb-0000:00:14.0-2"`
	VendorID   uint16 `json:"vendor_id" example:"1133"`
	ProductID  uint16 `json:"product_id" example:"2085"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// CaptureErrorEvent reports a session failure. Code is the numeric
// result code of the failed operation.
type CaptureErrorEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0"`
	Op         string `json:"op" example:"VIDIOC_DQBUF"`
	Code       int    `json:"code" example:"-7"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// FrameRateEvent carries the measured capture rate over the last window.
type FrameRateEvent struct {
	DevicePath string  `json:"device_path" example:"/dev/video0"`
	FPS        float64 `json:"fps" example:"29.97"`
	Frames     uint64  `json:"frames"`
	Timestamp  string  `json:"timestamp"`
}

// Type returns the event type identifier for FrameRateEvent.
func (e FrameRateEvent) Type() uint32 { return TypeFrameRate }
