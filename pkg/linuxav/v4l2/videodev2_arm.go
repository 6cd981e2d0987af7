//go:build linux && arm && !arm64

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions for 32-bit ARM (EABI).
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2Requestbuffers{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Streamparm{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Queryctrl{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Querymenu{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Control{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2ExtControl{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2ExtControls{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2EventSubscription{})]byte{}
	_ [128]byte = [unsafe.Sizeof(v4l2Event{})]byte{}
)

// v4l2Format has size 204 bytes on 32-bit.
type v4l2Format struct {
	typ uint32        // offset 0
	pix v4l2PixFormat // offset 4
	_   [152]byte     // rest of the 200-byte union
}

// v4l2Buffer has size 68 bytes with the 32-bit timeval.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	timestamp unix.Timeval // offset 20
	timecode  v4l2Timecode // offset 28
	sequence  uint32       // offset 44
	memory    uint32       // offset 48
	offset    uint32       // offset 52
	length    uint32       // offset 56
	reserved2 uint32       // offset 60
	requestFD int32        // offset 64
}

// v4l2ExtControls has size 24 bytes on 32-bit.
type v4l2ExtControls struct {
	which     uint32          // offset 0
	count     uint32          // offset 4
	errorIdx  uint32          // offset 8
	requestFD int32           // offset 12
	reserved  uint32          // offset 16
	controls  *v4l2ExtControl // offset 20
}

// v4l2Event has size 128 bytes: EABI aligns the 64-bit union members.
type v4l2Event struct {
	typ       uint32    // offset 0
	_         [4]byte   // padding
	u         [64]byte  // offset 8
	pending   uint32    // offset 72
	sequence  uint32    // offset 76
	timestamp [8]byte   // offset 80 - struct timespec
	id        uint32    // offset 88
	reserved  [8]uint32 // offset 92
	_         [4]byte   // padding to 128
}
