//go:build linux

package capture

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

func TestRateMeter(t *testing.T) {
	start := time.Unix(0, 0)
	m := rateMeter{window: time.Second, start: start}

	for i := 1; i < 30; i++ {
		if _, ok := m.add(start.Add(time.Duration(i) * 30 * time.Millisecond)); ok {
			t.Fatalf("published before the window elapsed at frame %d", i)
		}
	}
	fps, ok := m.add(start.Add(time.Second))
	if !ok {
		t.Fatal("no rate after a full window")
	}
	if fps != 30 {
		t.Errorf("fps = %v, want 30", fps)
	}
	if m.frames != 0 || !m.start.Equal(start.Add(time.Second)) {
		t.Error("meter not reset after publishing")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want exitReason
	}{
		{unix.ENODEV, exitDeviceLost},
		{&v4l2.Error{Op: "dequeue buffer", Code: v4l2.CodeDQBuf, Err: unix.ENODEV}, exitDeviceLost},
		{&v4l2.Error{Op: "wait frame", Code: v4l2.CodeSelect, Err: unix.ENXIO}, exitDeviceLost},
		{&v4l2.Error{Op: "dequeue buffer", Code: v4l2.CodeDQBuf, Err: unix.EIO}, exitFailed},
		{errors.New("other"), exitFailed},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)
	for i := 0; i < 3; i++ {
		if err := s.WriteFrame(v4l2.Frame{Sequence: uint32(i), Data: []byte{byte(i), 0xaa}}); err != nil {
			t.Fatal(err)
		}
	}
	if s.Frames() != 3 || s.Bytes() != 6 {
		t.Errorf("frames=%d bytes=%d", s.Frames(), s.Bytes())
	}
	if !bytes.Equal(buf.Bytes(), []byte{0, 0xaa, 1, 0xaa, 2, 0xaa}) {
		t.Errorf("payload = %x", buf.Bytes())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 1, errors.New("short write") }

func TestWriterSinkError(t *testing.T) {
	s := NewWriterSink(failingWriter{})
	if err := s.WriteFrame(v4l2.Frame{Data: []byte{1, 2}}); err == nil {
		t.Fatal("expected write error")
	}
	if s.Frames() != 0 || s.Bytes() != 1 {
		t.Errorf("frames=%d bytes=%d", s.Frames(), s.Bytes())
	}
}

func TestDirSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	s, err := NewDirSink(dir, v4l2.PixFmtMJPEG)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.WriteFrame(v4l2.Frame{Data: []byte{0xff, 0xd8, byte(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "frame-000001.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xff, 0xd8, 1}) {
		t.Errorf("frame 1 = %x", data)
	}
	if s.Frames() != 2 {
		t.Errorf("frames = %d", s.Frames())
	}
}

func TestFrameExtension(t *testing.T) {
	tests := map[uint32]string{
		v4l2.PixFmtMJPEG: "jpg",
		v4l2.PixFmtH264:  "h264",
		v4l2.PixFmtYUYV:  "yuyv.raw",
		0:                "raw",
	}
	for pixfmt, want := range tests {
		if got := FrameExtension(pixfmt); got != want {
			t.Errorf("FrameExtension(%s) = %q, want %q", v4l2.FormatFourCC(pixfmt), got, want)
		}
	}
}
