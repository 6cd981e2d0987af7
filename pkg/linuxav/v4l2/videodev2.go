//go:build linux

package v4l2

import (
	"encoding/binary"
	"unsafe"
)

// Kernel structures whose layout does not depend on the architecture.

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// effectiveCaps returns the capabilities of the opened node rather than the whole device.
func (c *v4l2Capability) effectiveCaps() uint32 {
	if c.capabilities&CapDeviceCaps != 0 {
		return c.deviceCaps
	}
	return c.capabilities
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2FrmsizeStepwise has size 24 bytes. A discrete size overlays minWidth/maxWidth.
type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

// v4l2Frmsizeenum has size 44 bytes.
type v4l2Frmsizeenum struct {
	index       uint32              // offset 0
	pixelFormat uint32              // offset 4
	typ         uint32              // offset 8
	stepwise    v4l2FrmsizeStepwise // offset 12 (union with discrete)
	reserved    [2]uint32           // offset 36
}

// discrete returns width and height of a discrete frame size.
func (f *v4l2Frmsizeenum) discrete() (uint32, uint32) {
	return f.stepwise.minWidth, f.stepwise.maxWidth
}

// v4l2Fract has size 8 bytes.
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Frmivalenum has size 52 bytes.
type v4l2Frmivalenum struct {
	index       uint32    // offset 0
	pixelFormat uint32    // offset 4
	width       uint32    // offset 8
	height      uint32    // offset 12
	typ         uint32    // offset 16
	min         v4l2Fract // offset 20 (discrete value, or stepwise min)
	max         v4l2Fract // offset 28
	step        v4l2Fract // offset 36
	reserved    [2]uint32 // offset 44
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Requestbuffers has size 20 bytes.
type v4l2Requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

// v4l2Timecode has size 16 bytes.
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Captureparm has size 40 bytes.
type v4l2Captureparm struct {
	capability   uint32    // offset 0
	capturemode  uint32    // offset 4
	timeperframe v4l2Fract // offset 8
	extendedmode uint32    // offset 16
	readbuffers  uint32    // offset 20
	reserved     [4]uint32 // offset 24
}

// v4l2Streamparm has size 204 bytes.
type v4l2Streamparm struct {
	typ     uint32          // offset 0
	capture v4l2Captureparm // offset 4 (union with output)
	_       [160]byte       // rest of the 200-byte union
}

// v4l2Queryctrl has size 68 bytes.
type v4l2Queryctrl struct {
	id           uint32    // offset 0
	typ          uint32    // offset 4
	name         [32]byte  // offset 8
	minimum      int32     // offset 40
	maximum      int32     // offset 44
	step         int32     // offset 48
	defaultValue int32     // offset 52
	flags        uint32    // offset 56
	reserved     [2]uint32 // offset 60
}

// v4l2Querymenu is packed, size 44 bytes. name is a union with a 64-bit value.
type v4l2Querymenu struct {
	id       uint32   // offset 0
	index    uint32   // offset 4
	name     [32]byte // offset 8
	reserved uint32   // offset 40
}

// value returns the integer-menu interpretation of the name union.
func (m *v4l2Querymenu) value() int64 {
	return int64(binary.LittleEndian.Uint64(m.name[:8]))
}

// v4l2Control has size 8 bytes.
type v4l2Control struct {
	id    uint32
	value int32
}

// v4l2ExtControl is packed, size 20 bytes.
type v4l2ExtControl struct {
	id        uint32  // offset 0
	size      uint32  // offset 4
	reserved2 uint32  // offset 8
	value     [8]byte // offset 12 (union of value, value64 and the string pointer)
}

func (c *v4l2ExtControl) value64() int64 {
	return int64(binary.LittleEndian.Uint64(c.value[:]))
}

func (c *v4l2ExtControl) setValue64(v int64) {
	binary.LittleEndian.PutUint64(c.value[:], uint64(v))
}

// setPointer stores buf's address in the union. The caller keeps buf alive across the ioctl.
func (c *v4l2ExtControl) setPointer(buf []byte) {
	binary.LittleEndian.PutUint64(c.value[:], uint64(uintptr(unsafe.Pointer(&buf[0]))))
}

// v4l2EventSubscription has size 32 bytes.
type v4l2EventSubscription struct {
	typ      uint32    // offset 0
	id       uint32    // offset 4
	flags    uint32    // offset 8
	reserved [5]uint32 // offset 12
}

// Layout of struct v4l2_event_ctrl inside the event union.
func (e *v4l2Event) ctrlChanges() uint32 { return binary.LittleEndian.Uint32(e.u[0:4]) }
func (e *v4l2Event) ctrlType() uint32 { return binary.LittleEndian.Uint32(e.u[4:8]) }
func (e *v4l2Event) ctrlValue64() int64 { return int64(binary.LittleEndian.Uint64(e.u[8:16])) }
func (e *v4l2Event) ctrlFlags() uint32 { return binary.LittleEndian.Uint32(e.u[16:20]) }
func (e *v4l2Event) ctrlMinimum() int32 { return int32(binary.LittleEndian.Uint32(e.u[20:24])) }
func (e *v4l2Event) ctrlMaximum() int32 { return int32(binary.LittleEndian.Uint32(e.u[24:28])) }
func (e *v4l2Event) ctrlStep() int32 { return int32(binary.LittleEndian.Uint32(e.u[28:32])) }
func (e *v4l2Event) ctrlDefault() int32 { return int32(binary.LittleEndian.Uint32(e.u[32:36])) }
