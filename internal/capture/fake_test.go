//go:build linux

package capture

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

const (
	cidBrightness uint32 = 0x00980900
	cidContrast   uint32 = 0x00980901
)

// fakeSession produces frames on demand and records what the runner does.
type fakeSession struct {
	mu sync.Mutex

	path      string
	formats   []v4l2.StreamFormat
	committed v4l2.Format
	rate      v4l2.Framerate
	state     v4l2.StreamState
	closed    bool
	sequence  uint32

	commits    []v4l2.Format
	commitErr  error
	startErr   error
	waitErr    error
	dequeueErr []error
	requeued   int
	controls   []v4l2.Control
	set        map[uint32]int64
	subscribed []uint32
	ctrlEvents []v4l2.ControlEvent
}

func newFakeSession(path string) *fakeSession {
	return &fakeSession{
		path: path,
		rate: v4l2.DefaultFramerate,
		formats: []v4l2.StreamFormat{
			{Supported: false, PixelFormat: 0x32315659, FourCC: "YV12"},
			{Supported: true, PixelFormat: v4l2.PixFmtMJPEG, FourCC: "MJPG", Resolutions: []v4l2.FrameSize{
				{Width: 1920, Height: 1080}, {Width: 1280, Height: 720},
			}},
			{Supported: true, PixelFormat: v4l2.PixFmtYUYV, FourCC: "YUYV", Resolutions: []v4l2.FrameSize{
				{Width: 640, Height: 480},
			}},
		},
		controls: []v4l2.Control{
			{ID: cidBrightness, Name: "Brightness", Type: v4l2.CtrlTypeInteger, Maximum: 255},
			{ID: cidContrast, Name: "Contrast", Type: v4l2.CtrlTypeInteger, Maximum: 255},
		},
		set: make(map[uint32]int64),
	}
}

func (f *fakeSession) Path() string               { return f.path }
func (f *fakeSession) Card() string               { return "Fake Camera" }
func (f *fakeSession) Method() v4l2.CaptureMethod { return v4l2.MethodMmap }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) Formats() []v4l2.StreamFormat { return f.formats }

func (f *fakeSession) CommitFormat(width, height, pixfmt uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	restart := f.state == v4l2.StreamActive
	f.state = v4l2.StreamStopped
	f.committed = v4l2.Format{PixelFormat: pixfmt, Width: width, Height: height, BytesPerLine: width * 2, SizeImage: width * height * 2}
	f.commits = append(f.commits, f.committed)
	if restart {
		f.state = v4l2.StreamActive
	}
	return nil
}

func (f *fakeSession) Committed() v4l2.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

func (f *fakeSession) Requested() v4l2.Format { return f.Committed() }

func (f *fakeSession) Framerate() v4l2.Framerate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate
}

func (f *fakeSession) SetFramerate(r v4l2.Framerate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = r
	return nil
}

func (f *fakeSession) Buffers() []v4l2.Buffer { return make([]v4l2.Buffer, 4) }

func (f *fakeSession) State() v4l2.StreamState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.state = v4l2.StreamActive
	return nil
}

func (f *fakeSession) RequestStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == v4l2.StreamActive {
		f.state = v4l2.StreamRequestedStop
	}
}

func (f *fakeSession) StopRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == v4l2.StreamRequestedStop
}

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = v4l2.StreamStopped
	return nil
}

func (f *fakeSession) WaitFrame(time.Duration) error {
	time.Sleep(100 * time.Microsecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeSession) Dequeue() (v4l2.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dequeueErr) > 0 {
		err := f.dequeueErr[0]
		f.dequeueErr = f.dequeueErr[1:]
		if err != nil {
			return v4l2.Frame{}, err
		}
	}
	f.sequence++
	return v4l2.Frame{
		Index:     f.sequence % 4,
		Sequence:  f.sequence,
		Timestamp: time.Now(),
		Data:      []byte{0xff, 0xd8, byte(f.sequence), 0xff, 0xd9},
	}, nil
}

func (f *fakeSession) Requeue(uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued++
	return nil
}

func (f *fakeSession) Control(id uint32) (*v4l2.Control, bool) {
	for i := range f.controls {
		if f.controls[i].ID == id {
			return &f.controls[i], true
		}
	}
	return nil, false
}

func (f *fakeSession) ControlByName(name string) (*v4l2.Control, bool) {
	for i := range f.controls {
		if f.controls[i].Name == name {
			return &f.controls[i], true
		}
	}
	return nil, false
}

func (f *fakeSession) SetControl(id uint32, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[id] = value
	return nil
}

func (f *fakeSession) Subscribed() []uint32 { return f.subscribed }

func (f *fakeSession) DequeueControlEvent() (v4l2.ControlEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ctrlEvents) == 0 {
		return v4l2.ControlEvent{}, v4l2.ErrNoEvent
	}
	ev := f.ctrlEvents[0]
	f.ctrlEvents = f.ctrlEvents[1:]
	return ev, nil
}

func (f *fakeSession) snapshot() (commits []v4l2.Format, requeued int, closed bool, state v4l2.StreamState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]v4l2.Format(nil), f.commits...), f.requeued, f.closed, f.state
}

func (f *fakeSession) control(id uint32) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.set[id]
	return v, ok
}

// fakeOpener hands out sessions in order and records each open.
type fakeOpener struct {
	mu       sync.Mutex
	sessions []*fakeSession
	errs     []error
	opens    int
	options  []int
}

func (o *fakeOpener) open(path string, opts ...v4l2.Option) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	o.options = append(o.options, len(opts))
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(o.sessions) == 0 {
		return nil, errors.New("no more fake sessions")
	}
	s := o.sessions[0]
	o.sessions = o.sessions[1:]
	s.path = path
	return s, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// devicePath returns a real file so symlink resolution has something to resolve.
func devicePath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(path string) config.SessionConfig {
	cfg := config.DefaultSessionConfig()
	cfg.Device.Path = path
	return cfg
}

// collector records events of one type from the bus.
type collector[T events.Event] struct {
	mu     sync.Mutex
	events []T
}

func collect[T events.Event](t *testing.T, bus *events.Bus) *collector[T] {
	t.Helper()
	c := &collector[T]{}
	t.Cleanup(events.Subscribe(bus, func(ev T) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}))
	return c
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.events...)
}

// wait polls until fn holds or fails the test after a second.
func wait(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
