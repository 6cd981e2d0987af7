//go:build linux

package v4l2

import (
	"bytes"
	"errors"
	"log/slog"
	"unsafe"
)

// Session is an open capture device. It owns the descriptor, the buffer pool,
// the control list and the format capability list.
//
// A Session is not safe for concurrent use.
type Session struct {
	path     string
	fd       int
	backend  Backend
	gw       *gateway
	logger   *slog.Logger
	observer Observer
	fatal    func(error)

	method      CaptureMethod
	bufferCount int

	driver  string
	card    string
	busInfo string
	caps    uint32

	formats   []StreamFormat
	requested Format
	committed Format
	framerate Framerate
	parmCaps  uint32

	state    StreamState
	buffers  []Buffer
	scratch  []byte
	sequence uint32

	controls   []Control
	focusID    uint32
	hasPanTilt bool
	subscribed []uint32
}

// Open opens a device node and validates that it can capture video with the
// requested method. On failure the descriptor is closed and no session is returned.
func Open(path string, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("device", path)

	s := &Session{
		path:        path,
		fd:          -1,
		backend:     o.backend,
		logger:      logger,
		observer:    o.observer,
		fatal:       o.fatalHandler(),
		method:      o.method,
		bufferCount: o.bufferCount,
		framerate:   o.framerate,
		gw: &gateway{
			backend:  o.backend,
			attempts: o.attempts,
			logger:   logger,
			observer: o.observer,
		},
	}

	fd, err := s.backend.Open(path)
	if err != nil {
		return nil, newError("open", CodeDevice, err)
	}
	s.fd = fd

	if err := s.init(); err != nil {
		s.teardown()
		return nil, err
	}
	return s, nil
}

func (s *Session) init() error {
	if err := s.queryCapabilities(); err != nil {
		return err
	}
	if _, err := s.EnumerateFormats(); err != nil {
		return err
	}
	if err := s.enumerateControls(); err != nil {
		return err
	}
	s.loadStreamParm()

	for _, f := range s.formats {
		if f.Supported && len(f.Resolutions) > 0 {
			s.requested = Format{PixelFormat: f.PixelFormat, Width: f.Resolutions[0].Width, Height: f.Resolutions[0].Height}
			break
		}
	}

	s.logger.Info("device opened",
		"card", s.card,
		"driver", s.driver,
		"bus", s.busInfo,
		"method", s.method.String(),
		"formats", len(s.formats),
		"controls", len(s.controls))
	return nil
}

// queryCapabilities validates capture, streaming and (for read capture) read/write support.
func (s *Session) queryCapabilities() error {
	var cp v4l2Capability
	if err := s.gw.perform(s.fd, vidiocQuerycap, unsafe.Pointer(&cp)); err != nil {
		return newError("query capabilities", CodeQueryCap, err)
	}
	s.driver = cstr(cp.driver[:])
	s.card = cstr(cp.card[:])
	s.busInfo = cstr(cp.busInfo[:])
	s.caps = cp.effectiveCaps()

	if s.caps&CapVideoCapture == 0 {
		s.logger.Error("device does not support video capture")
		return newError("query capabilities", CodeQueryCap, errors.New("no video capture capability"))
	}
	if s.caps&CapStreaming == 0 {
		s.logger.Error("device does not support streaming i/o")
		return newError("query capabilities", CodeQueryCap, errors.New("no streaming capability"))
	}
	if s.method == MethodRead && s.caps&CapReadWrite == 0 {
		s.logger.Error("device does not support read i/o")
		return newError("query capabilities", CodeRead, errors.New("no read/write capability"))
	}
	return nil
}

// Close stops streaming, releases every buffer, unsubscribes control events
// and closes the descriptor. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.fd < 0 {
		return nil
	}
	var firstErr error
	if err := s.Stop(); err != nil {
		firstErr = err
	}
	if err := s.teardown(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// teardown releases everything the session owns without touching stream state.
func (s *Session) teardown() error {
	s.releaseBuffers()
	s.unsubscribeControls()
	s.controls = nil
	s.formats = nil
	s.focusID = 0
	s.hasPanTilt = false

	err := s.backend.Close(s.fd)
	s.fd = -1
	s.state = StreamStopped
	if err != nil {
		return newError("close", CodeDevice, err)
	}
	return nil
}

// Path returns the device node the session was opened on.
func (s *Session) Path() string { return s.path }

// Card returns the device name reported by the driver.
func (s *Session) Card() string { return s.card }

// Driver returns the kernel driver name.
func (s *Session) Driver() string { return s.driver }

// BusInfo returns the driver's bus location string.
func (s *Session) BusInfo() string { return s.busInfo }

// Capabilities returns the effective capability flags of the opened node.
func (s *Session) Capabilities() uint32 { return s.caps }

// Method returns the capture method.
func (s *Session) Method() CaptureMethod { return s.method }

// IsOpen reports whether the session still owns a descriptor.
func (s *Session) IsOpen() bool { return s.fd >= 0 }

// FD returns the device descriptor, or -1 after Close. Callers may poll it but
// must not close it.
func (s *Session) FD() int { return s.fd }

// FocusControlID returns the focus control found during enumeration, or 0.
func (s *Session) FocusControlID() uint32 { return s.focusID }

// HasPanTilt reports whether relative pan/tilt controls were found.
func (s *Session) HasPanTilt() bool { return s.hasPanTilt }

func (s *Session) checkOpen(op string, code Code) error {
	if s.fd < 0 {
		return newError(op, code, ErrClosed)
	}
	return nil
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// typePtr returns a pointer to the buffer type argument of STREAMON/STREAMOFF.
func typePtr() unsafe.Pointer {
	t := int32(bufTypeVideoCapture)
	return unsafe.Pointer(&t)
}
