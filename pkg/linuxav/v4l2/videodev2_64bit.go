//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2Requestbuffers{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Streamparm{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Queryctrl{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Querymenu{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Control{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2ExtControl{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2ExtControls{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2EventSubscription{})]byte{}
	_ [136]byte = [unsafe.Sizeof(v4l2Event{})]byte{}
)

// v4l2Format has size 208 bytes. The union holds pointers, so it is 8-byte aligned.
type v4l2Format struct {
	typ uint32        // offset 0
	_   [4]byte       // padding
	pix v4l2PixFormat // offset 8 (union with the other format kinds)
	_   [152]byte     // rest of the 200-byte union
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	_         [4]byte      // padding
	timestamp unix.Timeval // offset 24
	timecode  v4l2Timecode // offset 40
	sequence  uint32       // offset 56
	memory    uint32       // offset 60
	offset    uint32       // offset 64 (union with userptr, planes, fd)
	_         [4]byte      // rest of the union
	length    uint32       // offset 72
	reserved2 uint32       // offset 76
	requestFD int32        // offset 80
	_         [4]byte      // padding to 88
}

// v4l2ExtControls has size 32 bytes.
type v4l2ExtControls struct {
	which     uint32          // offset 0
	count     uint32          // offset 4
	errorIdx  uint32          // offset 8
	requestFD int32           // offset 12
	reserved  uint32          // offset 16
	_         [4]byte         // padding
	controls  *v4l2ExtControl // offset 24
}

// v4l2Event has size 136 bytes.
type v4l2Event struct {
	typ       uint32    // offset 0
	_         [4]byte   // padding, the union carries 64-bit members
	u         [64]byte  // offset 8
	pending   uint32    // offset 72
	sequence  uint32    // offset 76
	timestamp [16]byte  // offset 80 - struct timespec
	id        uint32    // offset 96
	reserved  [8]uint32 // offset 100
	_         [4]byte   // padding to 136
}
