//go:build linux

package v4l2

import (
	"fmt"
	"time"
)

// Capability flags.
const (
	CapVideoCapture uint32 = 0x00000001
	CapReadWrite    uint32 = 0x01000000
	CapStreaming    uint32 = 0x04000000
	CapDeviceCaps   uint32 = 0x80000000
)

// capTimePerFrame is the streamparm capability for framerate selection.
const capTimePerFrame = 0x1000

// Format flags.
const (
	fmtFlagEmulated = 0x0002
)

// Frame size types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

const (
	bufTypeVideoCapture = 1
	memoryMmap          = 1
	fieldAny            = 0
)

// Control types.
const (
	CtrlTypeInteger     uint32 = 1
	CtrlTypeBoolean     uint32 = 2
	CtrlTypeMenu        uint32 = 3
	CtrlTypeButton      uint32 = 4
	CtrlTypeInteger64   uint32 = 5
	CtrlTypeCtrlClass   uint32 = 6
	CtrlTypeString      uint32 = 7
	CtrlTypeBitmask     uint32 = 8
	CtrlTypeIntegerMenu uint32 = 9
)

// Control flags.
const (
	CtrlFlagDisabled  uint32 = 0x0001
	CtrlFlagGrabbed   uint32 = 0x0002
	CtrlFlagReadOnly  uint32 = 0x0004
	CtrlFlagUpdate    uint32 = 0x0008
	CtrlFlagInactive  uint32 = 0x0010
	CtrlFlagSlider    uint32 = 0x0020
	CtrlFlagWriteOnly uint32 = 0x0040
	CtrlFlagVolatile  uint32 = 0x0080
	CtrlFlagNextCtrl  uint32 = 0x80000000
)

// Control identifiers that promote session capabilities.
const (
	CIDPanRelative   uint32 = 0x009a0904
	CIDTiltRelative  uint32 = 0x009a0905
	CIDFocusAbsolute uint32 = 0x009a090a
	CIDFocusLogitech uint32 = 0x0A046D04
)

const (
	ctrlClassMask    uint32 = 0x0fff0000
	ctrlWhichCurrent uint32 = 0
)

// Event types.
const (
	eventAll  = 0
	eventCtrl = 3
)

// Control event change flags.
const (
	EventCtrlChValue = 0x0001
	EventCtrlChFlags = 0x0002
	EventCtrlChRange = 0x0004
)

// Framerate represents a frame interval as a fraction of a second.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// DefaultFramerate is the interval a session requests until told otherwise.
var DefaultFramerate = Framerate{Numerator: 1, Denominator: 25}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

func (f Framerate) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// FrameSize is one supported resolution with its framerates.
type FrameSize struct {
	Width      uint32
	Height     uint32
	Framerates []Framerate
}

// StreamFormat describes one pixel format a device can produce.
type StreamFormat struct {
	Supported   bool
	PixelFormat uint32
	FourCC      string
	Description string
	Emulated    bool
	Resolutions []FrameSize
}

// HasSize reports whether the format lists the given resolution.
func (f StreamFormat) HasSize(width, height uint32) bool {
	for _, r := range f.Resolutions {
		if r.Width == width && r.Height == height {
			return true
		}
	}
	return false
}

// Format is a pixel format together with its frame geometry.
type Format struct {
	PixelFormat  uint32
	Width        uint32
	Height       uint32
	BytesPerLine uint32
	SizeImage    uint32
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d", FormatFourCC(f.PixelFormat), f.Width, f.Height)
}

// CaptureMethod selects how frames move from the driver to the process.
type CaptureMethod int

// Capture methods.
const (
	MethodMmap CaptureMethod = iota
	MethodRead
)

func (m CaptureMethod) String() string {
	switch m {
	case MethodMmap:
		return "mmap"
	case MethodRead:
		return "read"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseCaptureMethod parses "mmap" or "read".
func ParseCaptureMethod(s string) (CaptureMethod, error) {
	switch s {
	case "", "mmap":
		return MethodMmap, nil
	case "read":
		return MethodRead, nil
	default:
		return MethodMmap, fmt.Errorf("unknown capture method %q", s)
	}
}

// StreamState is the streaming state of a session.
type StreamState int

// Stream states.
const (
	StreamStopped StreamState = iota
	StreamRequestedStop
	StreamActive
)

func (s StreamState) String() string {
	switch s {
	case StreamStopped:
		return "stopped"
	case StreamRequestedStop:
		return "requested-stop"
	case StreamActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BufferState tracks who owns a pool slot.
type BufferState int

// Buffer states.
const (
	// BufferFree is queued to the driver and waiting for data.
	BufferFree BufferState = iota
	// BufferFilled is dequeued and owned by the caller until requeued.
	BufferFilled
)

func (s BufferState) String() string {
	if s == BufferFree {
		return "free"
	}
	return "filled"
}

// Buffer is one slot of the capture pool.
type Buffer struct {
	Index  uint32
	Length uint32
	Offset uint32
	State  BufferState
	Data   []byte
}

// Frame is a captured image handed to the caller.
type Frame struct {
	Index     uint32
	Sequence  uint32
	Timestamp time.Time
	Data      []byte
}

// MenuEntry is one named choice of a menu control. The list ends with an
// entry whose Index is Maximum+1 and whose Name is empty.
type MenuEntry struct {
	Index uint32
	Name  string
	Value int64
}

// Control describes a device control and its cached value.
type Control struct {
	ID      uint32
	Type    uint32
	Class   uint32
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
	Menu    []MenuEntry

	Value   int32
	Value64 int64
	String  string
}

// IsMenu reports whether the control takes values from a menu.
func (c *Control) IsMenu() bool {
	return c.Type == CtrlTypeMenu || c.Type == CtrlTypeIntegerMenu
}

// Entries returns the menu without its terminator.
func (c *Control) Entries() []MenuEntry {
	if len(c.Menu) == 0 {
		return nil
	}
	return c.Menu[:len(c.Menu)-1]
}

// Readable reports whether the control carries a value that can be read back.
func (c *Control) Readable() bool {
	switch c.Type {
	case CtrlTypeButton, CtrlTypeCtrlClass:
		return false
	}
	return c.Flags&CtrlFlagWriteOnly == 0
}

// ControlEvent reports a change the driver made to a control.
type ControlEvent struct {
	ID      uint32
	Changes uint32
	Value   int64
	Flags   uint32
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
}
