//go:build linux

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EnumerateFormats queries every pixel format the device offers together with
// its frame sizes and intervals. It fails with ErrDevice when none of the
// formats is both decodable and has at least one frame size.
func (s *Session) EnumerateFormats() ([]StreamFormat, error) {
	if err := s.checkOpen("enumerate formats", CodeDevice); err != nil {
		return nil, err
	}

	var formats []StreamFormat
	usable := 0

	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{
			index: i,
			typ:   bufTypeVideoCapture,
		}
		if err := s.gw.perform(s.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if !errors.Is(err, unix.EINVAL) {
				s.logger.Warn("format enumeration stopped", "index", i, "error", err)
			}
			break
		}

		f := StreamFormat{
			Supported:   CanDecodeFormat(desc.pixelformat),
			PixelFormat: desc.pixelformat,
			FourCC:      FormatFourCC(desc.pixelformat),
			Description: cstr(desc.description[:]),
			Emulated:    desc.flags&fmtFlagEmulated != 0,
		}
		if !f.Supported {
			s.logger.Info("pixel format not supported for decoding", "fourcc", f.FourCC, "description", f.Description)
		}
		f.Resolutions = s.enumerateFrameSizes(desc.pixelformat)
		if f.Supported && len(f.Resolutions) > 0 {
			usable++
		}
		formats = append(formats, f)
	}

	s.formats = formats
	if usable == 0 {
		s.logger.Error("no usable pixel format found", "formats", len(formats))
		return formats, newError("enumerate formats", CodeDevice, errors.New("no decodable format with frame sizes"))
	}
	return formats, nil
}

// Formats returns the capability list from the last enumeration.
func (s *Session) Formats() []StreamFormat {
	return s.formats
}

// enumerateFrameSizes lists the frame sizes of a format. Stepwise and
// continuous ranges are reduced to their minimum and maximum sizes.
func (s *Session) enumerateFrameSizes(pixfmt uint32) []FrameSize {
	var sizes []FrameSize

	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{
			index:       i,
			pixelFormat: pixfmt,
		}
		if err := s.gw.perform(s.fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			switch {
			case errors.Is(err, unix.EINVAL):
			case errors.Is(err, unix.ENOTTY):
				s.logger.Debug("frame size enumeration not supported", "fourcc", FormatFourCC(pixfmt))
			default:
				s.logger.Warn("frame size enumeration stopped", "fourcc", FormatFourCC(pixfmt), "index", i, "error", err)
			}
			return sizes
		}

		switch frmsize.typ {
		case frmsizeTypeDiscrete:
			w, h := frmsize.discrete()
			sizes = append(sizes, s.frameSize(pixfmt, w, h))
		case frmsizeTypeContinuous, frmsizeTypeStepwise:
			sw := frmsize.stepwise
			sizes = append(sizes, s.frameSize(pixfmt, sw.minWidth, sw.minHeight))
			if sw.maxWidth != sw.minWidth || sw.maxHeight != sw.minHeight {
				sizes = append(sizes, s.frameSize(pixfmt, sw.maxWidth, sw.maxHeight))
			}
			return sizes
		default:
			s.logger.Warn("unknown frame size type", "type", frmsize.typ)
			return sizes
		}
	}
}

func (s *Session) frameSize(pixfmt, width, height uint32) FrameSize {
	return FrameSize{
		Width:      width,
		Height:     height,
		Framerates: s.enumerateFrameIntervals(pixfmt, width, height),
	}
}

// enumerateFrameIntervals lists the frame intervals for one size. Stepwise and
// continuous ranges are reduced to their boundaries.
func (s *Session) enumerateFrameIntervals(pixfmt, width, height uint32) []Framerate {
	var rates []Framerate

	for i := uint32(0); ; i++ {
		frmival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixfmt,
			width:       width,
			height:      height,
		}
		if err := s.gw.perform(s.fd, vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); err != nil {
			if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOTTY) {
				s.logger.Warn("frame interval enumeration stopped",
					"fourcc", FormatFourCC(pixfmt), "width", width, "height", height, "error", err)
			}
			return rates
		}

		switch frmival.typ {
		case frmivalTypeDiscrete:
			rates = append(rates, Framerate{Numerator: frmival.min.numerator, Denominator: frmival.min.denominator})
		case frmivalTypeContinuous, frmivalTypeStepwise:
			rates = append(rates, Framerate{Numerator: frmival.min.numerator, Denominator: frmival.min.denominator})
			if frmival.max != frmival.min {
				rates = append(rates, Framerate{Numerator: frmival.max.numerator, Denominator: frmival.max.denominator})
			}
			return rates
		default:
			return rates
		}
	}
}

// lookupFormat returns the enumerated entry for pixfmt.
func (s *Session) lookupFormat(pixfmt uint32) (StreamFormat, bool) {
	for _, f := range s.formats {
		if f.PixelFormat == pixfmt {
			return f, true
		}
	}
	return StreamFormat{}, false
}

// substitute rewrites an H264 request to MJPG when the device only carries
// H264 muxed inside its MJPEG stream.
func (s *Session) substitute(pixfmt uint32) uint32 {
	if pixfmt != PixFmtH264 {
		return pixfmt
	}
	if _, native := s.lookupFormat(PixFmtH264); native {
		return pixfmt
	}
	if _, ok := s.lookupFormat(PixFmtMJPEG); ok {
		s.logger.Info("H264 not exposed natively, requesting MJPG container")
		return PixFmtMJPEG
	}
	return pixfmt
}

// CommitFormat sets the capture format and prepares the buffer pool for it.
// An active stream is stopped first and restarted once the new pool is queued.
//
// If the driver rejects the format the previously requested format is kept and
// ErrFormat is returned. Buffer failures roll the pool back but leave the new
// format committed.
func (s *Session) CommitFormat(width, height, pixfmt uint32) error {
	if err := s.checkOpen("commit format", CodeFormat); err != nil {
		return err
	}

	restart := s.state == StreamActive
	if s.state != StreamStopped {
		if err := s.Stop(); err != nil {
			return err
		}
	}

	prev := s.requested
	pixfmt = s.substitute(pixfmt)
	s.requested = Format{PixelFormat: pixfmt, Width: width, Height: height}

	s.releaseBuffers()

	f := v4l2Format{typ: bufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixfmt
	f.pix.field = fieldAny
	if err := s.gw.perform(s.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		s.logger.Error("format rejected", "format", s.requested.String(), "error", err)
		s.requested = prev
		return newError("set format", CodeFormat, err)
	}

	if f.pix.width != width || f.pix.height != height {
		s.logger.Warn("driver adjusted requested size",
			"requested_width", width, "requested_height", height,
			"width", f.pix.width, "height", f.pix.height)
	}
	s.committed = Format{
		PixelFormat:  f.pix.pixelformat,
		Width:        f.pix.width,
		Height:       f.pix.height,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}
	s.requested.Width = f.pix.width
	s.requested.Height = f.pix.height

	s.applyFramerate()

	if err := s.allocateBuffers(); err != nil {
		return err
	}
	s.logger.Info("format committed", "format", s.committed.String(), "framerate", s.framerate.String(), "buffers", len(s.buffers))

	if restart {
		return s.Start()
	}
	return nil
}

// Committed returns the format last accepted by the driver.
func (s *Session) Committed() Format {
	return s.committed
}

// Requested returns the format most recently requested.
func (s *Session) Requested() Format {
	return s.requested
}

// Framerate returns the frame interval the session applies.
func (s *Session) Framerate() Framerate {
	return s.framerate
}

// SetFramerate records a new frame interval and applies it immediately when
// the device supports it. It takes full effect on the next commit.
func (s *Session) SetFramerate(f Framerate) error {
	if f.Numerator == 0 || f.Denominator == 0 {
		return newError("set framerate", CodeFormat, unix.EINVAL)
	}
	s.framerate = f
	if s.fd < 0 || s.parmCaps&capTimePerFrame == 0 {
		return nil
	}
	return s.setStreamParm()
}

// loadStreamParm reads the streaming parameters to learn whether the device
// accepts a frame interval.
func (s *Session) loadStreamParm() {
	parm := v4l2Streamparm{typ: bufTypeVideoCapture}
	if err := s.gw.perform(s.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		s.logger.Debug("streaming parameters unavailable", "error", err)
		return
	}
	s.parmCaps = parm.capture.capability
}

func (s *Session) applyFramerate() {
	if s.parmCaps&capTimePerFrame == 0 {
		return
	}
	if err := s.setStreamParm(); err != nil {
		s.logger.Warn("unable to set framerate", "framerate", s.framerate.String(), "error", err)
	}
}

func (s *Session) setStreamParm() error {
	parm := v4l2Streamparm{typ: bufTypeVideoCapture}
	parm.capture.timeperframe = v4l2Fract{numerator: s.framerate.Numerator, denominator: s.framerate.Denominator}
	if err := s.gw.perform(s.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return newError("set framerate", CodeFormat, err)
	}
	if tpf := parm.capture.timeperframe; tpf.numerator != 0 && tpf.denominator != 0 {
		s.framerate = Framerate{Numerator: tpf.numerator, Denominator: tpf.denominator}
	}
	return nil
}
