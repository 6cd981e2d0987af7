//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request encoding from asm-generic/ioctl.h.
const (
	iocWrite     = 1
	iocRead      = 2
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
	iocMagic     = 'V'
)

const sizeofInt = unsafe.Sizeof(int32(0))

// IOCTL requests, encoded from the structure sizes of the target architecture.
const (
	vidiocQuerycap           = iocRead<<iocDirShift | unsafe.Sizeof(v4l2Capability{})<<iocSizeShift | iocMagic<<iocTypeShift | 0
	vidiocEnumFmt            = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Fmtdesc{})<<iocSizeShift | iocMagic<<iocTypeShift | 2
	vidiocGFmt               = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Format{})<<iocSizeShift | iocMagic<<iocTypeShift | 4
	vidiocSFmt               = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Format{})<<iocSizeShift | iocMagic<<iocTypeShift | 5
	vidiocReqbufs            = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Requestbuffers{})<<iocSizeShift | iocMagic<<iocTypeShift | 8
	vidiocQuerybuf           = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Buffer{})<<iocSizeShift | iocMagic<<iocTypeShift | 9
	vidiocQbuf               = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Buffer{})<<iocSizeShift | iocMagic<<iocTypeShift | 15
	vidiocDqbuf              = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Buffer{})<<iocSizeShift | iocMagic<<iocTypeShift | 17
	vidiocStreamon           = iocWrite<<iocDirShift | sizeofInt<<iocSizeShift | iocMagic<<iocTypeShift | 18
	vidiocStreamoff          = iocWrite<<iocDirShift | sizeofInt<<iocSizeShift | iocMagic<<iocTypeShift | 19
	vidiocGParm              = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Streamparm{})<<iocSizeShift | iocMagic<<iocTypeShift | 21
	vidiocSParm              = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Streamparm{})<<iocSizeShift | iocMagic<<iocTypeShift | 22
	vidiocGCtrl              = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Control{})<<iocSizeShift | iocMagic<<iocTypeShift | 27
	vidiocSCtrl              = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Control{})<<iocSizeShift | iocMagic<<iocTypeShift | 28
	vidiocQueryctrl          = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Queryctrl{})<<iocSizeShift | iocMagic<<iocTypeShift | 36
	vidiocQuerymenu          = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Querymenu{})<<iocSizeShift | iocMagic<<iocTypeShift | 37
	vidiocGExtCtrls          = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2ExtControls{})<<iocSizeShift | iocMagic<<iocTypeShift | 71
	vidiocSExtCtrls          = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2ExtControls{})<<iocSizeShift | iocMagic<<iocTypeShift | 72
	vidiocEnumFramesizes     = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Frmsizeenum{})<<iocSizeShift | iocMagic<<iocTypeShift | 74
	vidiocEnumFrameintervals = (iocRead|iocWrite)<<iocDirShift | unsafe.Sizeof(v4l2Frmivalenum{})<<iocSizeShift | iocMagic<<iocTypeShift | 75
	vidiocDqevent            = iocRead<<iocDirShift | unsafe.Sizeof(v4l2Event{})<<iocSizeShift | iocMagic<<iocTypeShift | 89
	vidiocSubscribeEvent     = iocWrite<<iocDirShift | unsafe.Sizeof(v4l2EventSubscription{})<<iocSizeShift | iocMagic<<iocTypeShift | 90
	vidiocUnsubscribeEvent   = iocWrite<<iocDirShift | unsafe.Sizeof(v4l2EventSubscription{})<<iocSizeShift | iocMagic<<iocTypeShift | 91
)

var requestNames = map[uintptr]string{
	vidiocQuerycap:           "VIDIOC_QUERYCAP",
	vidiocEnumFmt:            "VIDIOC_ENUM_FMT",
	vidiocGFmt:               "VIDIOC_G_FMT",
	vidiocSFmt:               "VIDIOC_S_FMT",
	vidiocReqbufs:            "VIDIOC_REQBUFS",
	vidiocQuerybuf:           "VIDIOC_QUERYBUF",
	vidiocQbuf:               "VIDIOC_QBUF",
	vidiocDqbuf:              "VIDIOC_DQBUF",
	vidiocStreamon:           "VIDIOC_STREAMON",
	vidiocStreamoff:          "VIDIOC_STREAMOFF",
	vidiocGParm:              "VIDIOC_G_PARM",
	vidiocSParm:              "VIDIOC_S_PARM",
	vidiocGCtrl:              "VIDIOC_G_CTRL",
	vidiocSCtrl:              "VIDIOC_S_CTRL",
	vidiocQueryctrl:          "VIDIOC_QUERYCTRL",
	vidiocQuerymenu:          "VIDIOC_QUERYMENU",
	vidiocGExtCtrls:          "VIDIOC_G_EXT_CTRLS",
	vidiocSExtCtrls:          "VIDIOC_S_EXT_CTRLS",
	vidiocEnumFramesizes:     "VIDIOC_ENUM_FRAMESIZES",
	vidiocEnumFrameintervals: "VIDIOC_ENUM_FRAMEINTERVALS",
	vidiocDqevent:            "VIDIOC_DQEVENT",
	vidiocSubscribeEvent:     "VIDIOC_SUBSCRIBE_EVENT",
	vidiocUnsubscribeEvent:   "VIDIOC_UNSUBSCRIBE_EVENT",
}

// RequestName returns the symbolic name of an ioctl request.
func RequestName(req uintptr) string {
	if name, ok := requestNames[req]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", req)
}

// MaxIoctlAttempts bounds how often a transient ioctl failure is retried.
const MaxIoctlAttempts = 4

// Backend performs the system calls a Session issues against a device node.
type Backend interface {
	Open(path string) (int, error)
	Close(fd int) error
	Ioctl(fd int, req uintptr, arg unsafe.Pointer) error
	Mmap(fd int, offset int64, length int) ([]byte, error)
	Munmap(b []byte) error
	Read(fd int, p []byte) (int, error)
	// Poll waits until the descriptor is readable or carries a pending event.
	Poll(fd int, timeout time.Duration) (bool, error)
}

// SystemBackend issues raw system calls against the kernel.
type SystemBackend struct{}

// Open opens a device node in non-blocking mode.
func (SystemBackend) Open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

// Close closes a device descriptor.
func (SystemBackend) Close(fd int) error {
	return unix.Close(fd)
}

// Ioctl issues a single ioctl.
func (SystemBackend) Ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Mmap maps a driver buffer shared and read-write.
func (SystemBackend) Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Munmap releases a mapping returned by Mmap.
func (SystemBackend) Munmap(b []byte) error {
	return unix.Munmap(b)
}

// Read reads a frame from a device opened for read/write capture.
func (SystemBackend) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

// Poll waits for input or a pending V4L2 event.
func (SystemBackend) Poll(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLPRI}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// Observer receives notifications about gateway and session activity.
type Observer interface {
	IoctlRetried(request string)
	IoctlExhausted(request string)
	StreamStateChanged(device string, state StreamState)
	BuffersMapped(device string, count int)
	FrameDequeued(device string, bytes int)
}

type nopObserver struct{}

func (nopObserver) IoctlRetried(string) {}
func (nopObserver) IoctlExhausted(string) {}
func (nopObserver) StreamStateChanged(string, StreamState) {}
func (nopObserver) BuffersMapped(string, int) {}
func (nopObserver) FrameDequeued(string, int) {}

// gateway wraps every device request with bounded retries on transient errors.
type gateway struct {
	backend  Backend
	attempts int
	logger   *slog.Logger
	observer Observer
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ETIMEDOUT)
}

// isTransientQuery also covers errors UVC devices report while busy answering control queries.
func isTransientQuery(err error) bool {
	return isTransient(err) || errors.Is(err, unix.EIO) || errors.Is(err, unix.EPIPE)
}

func (g *gateway) perform(fd int, req uintptr, arg unsafe.Pointer) error {
	var err error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		err = g.backend.Ioctl(fd, req, arg)
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt < g.attempts {
			g.observer.IoctlRetried(RequestName(req))
		}
	}
	g.exhausted(req, err)
	return err
}

// performNonblocking retries only interrupted calls. EAGAIN on a non-blocking
// descriptor means nothing is ready and is returned at once.
func (g *gateway) performNonblocking(fd int, req uintptr, arg unsafe.Pointer) error {
	var err error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		err = g.backend.Ioctl(fd, req, arg)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
	g.exhausted(req, err)
	return err
}

// performQuery walks the control list from current, re-arming the next-control
// request before every attempt.
func (g *gateway) performQuery(fd int, current uint32, qc *v4l2Queryctrl) error {
	var err error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		*qc = v4l2Queryctrl{id: current | CtrlFlagNextCtrl}
		err = g.backend.Ioctl(fd, vidiocQueryctrl, unsafe.Pointer(qc))
		if err == nil || !isTransientQuery(err) {
			return err
		}
		if attempt < g.attempts {
			g.observer.IoctlRetried(RequestName(vidiocQueryctrl))
		}
	}
	g.exhausted(vidiocQueryctrl, err)
	return err
}

func (g *gateway) exhausted(req uintptr, err error) {
	g.logger.Error("ioctl failed after retries", "request", RequestName(req), "attempts", g.attempts, "error", err)
	g.observer.IoctlExhausted(RequestName(req))
}
