//go:build linux

package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// WriterSink appends raw frame payloads to w. Concatenated MJPG frames
// form a playable MJPEG stream.
type WriterSink struct {
	w      io.Writer
	frames uint64
	bytes  uint64
}

// NewWriterSink writes frames to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteFrame implements FrameSink.
func (s *WriterSink) WriteFrame(f v4l2.Frame) error {
	n, err := s.w.Write(f.Data)
	s.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("write frame %d: %w", f.Sequence, err)
	}
	s.frames++
	return nil
}

// Frames returns how many frames were written.
func (s *WriterSink) Frames() uint64 { return s.frames }

// Bytes returns how many bytes were written.
func (s *WriterSink) Bytes() uint64 { return s.bytes }

// DirSink writes every frame to its own file in a directory.
type DirSink struct {
	dir    string
	ext    string
	frames uint64
}

// NewDirSink creates dir if needed. ext is derived from the pixel format.
func NewDirSink(dir string, pixfmt uint32) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &DirSink{dir: dir, ext: FrameExtension(pixfmt)}, nil
}

// WriteFrame implements FrameSink.
func (s *DirSink) WriteFrame(f v4l2.Frame) error {
	name := filepath.Join(s.dir, fmt.Sprintf("frame-%06d.%s", s.frames, s.ext))
	if err := os.WriteFile(name, f.Data, 0o644); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Frames returns how many files were written.
func (s *DirSink) Frames() uint64 { return s.frames }

// FrameExtension names the file extension for a pixel format.
func FrameExtension(pixfmt uint32) string {
	switch pixfmt {
	case 0:
		return "raw"
	case v4l2.PixFmtMJPEG:
		return "jpg"
	case v4l2.PixFmtH264:
		return "h264"
	default:
		return strings.ToLower(strings.TrimSpace(v4l2.FormatFourCC(pixfmt))) + ".raw"
	}
}
