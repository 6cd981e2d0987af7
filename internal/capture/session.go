//go:build linux

package capture

import (
	"time"

	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// Session is the part of *v4l2.Session the runner drives.
type Session interface {
	Path() string
	Card() string
	Method() v4l2.CaptureMethod
	Close() error

	Formats() []v4l2.StreamFormat
	CommitFormat(width, height, pixfmt uint32) error
	Committed() v4l2.Format
	Requested() v4l2.Format
	Framerate() v4l2.Framerate
	SetFramerate(v4l2.Framerate) error
	Buffers() []v4l2.Buffer

	State() v4l2.StreamState
	Start() error
	RequestStop()
	StopRequested() bool
	Stop() error

	WaitFrame(timeout time.Duration) error
	Dequeue() (v4l2.Frame, error)
	Requeue(index uint32) error

	Control(id uint32) (*v4l2.Control, bool)
	ControlByName(name string) (*v4l2.Control, bool)
	SetControl(id uint32, value int64) error
	Subscribed() []uint32
	DequeueControlEvent() (v4l2.ControlEvent, error)
}

// Opener opens a session on a device node.
type Opener func(path string, opts ...v4l2.Option) (Session, error)

// OpenV4L2 opens a real device.
func OpenV4L2(path string, opts ...v4l2.Option) (Session, error) {
	s, err := v4l2.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
