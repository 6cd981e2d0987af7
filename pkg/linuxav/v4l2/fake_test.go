//go:build linux

package v4l2

import (
	"encoding/binary"
	"io"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type fakeFormat struct {
	pixfmt   uint32
	desc     string
	sizes    [][2]uint32
	stepwise bool
}

type fakeControl struct {
	id       uint32
	typ      uint32
	name     string
	min, max int32
	step     int32
	def      int32
	flags    uint32
	menu     map[uint32]string
	intMenu  map[uint32]int64
	value    int32
	value64  int64
	str      string
}

// fakeDevice is an in-memory V4L2 driver answering the requests a Session issues.
type fakeDevice struct {
	caps       uint32
	deviceCaps uint32
	formats    []fakeFormat
	intervals  []v4l2Fract
	controls   []*fakeControl
	parmCaps   uint32

	openErr       error
	errs          map[uintptr][]error
	rejectFormat  map[uint32]bool
	adjustTo      *[2]uint32
	failSubscribe map[uint32]bool
	mmapFailAt    int
	pollReady     bool
	readData      []byte

	isOpen    bool
	streaming bool
	reqCount  uint32
	queue     []uint32
	mapped    int
	mmaps     int
	pix       v4l2PixFormat
	parm      v4l2Fract
	sequence  uint32
	subs      map[uint32]bool
	events    []v4l2Event
	queryIDs  []uint32
	calls     map[uintptr]int
}

func newFakeCamera() *fakeDevice {
	return &fakeDevice{
		caps: CapVideoCapture | CapStreaming | CapReadWrite,
		formats: []fakeFormat{
			{pixfmt: PixFmtMJPEG, desc: "Motion-JPEG", sizes: [][2]uint32{{640, 480}, {1280, 720}}},
			{pixfmt: PixFmtYUYV, desc: "YUYV 4:2:2", sizes: [][2]uint32{{640, 480}}},
		},
		intervals: []v4l2Fract{{1, 30}, {1, 15}},
		controls: []*fakeControl{
			{id: 0x00980900, typ: CtrlTypeInteger, name: "Brightness", min: 0, max: 255, step: 1, def: 128, value: 128},
			{id: 0x00980901, typ: CtrlTypeInteger, name: "Contrast", min: 0, max: 95, step: 1, def: 32, value: 32, flags: CtrlFlagDisabled},
			{id: 0x00980918, typ: CtrlTypeMenu, name: "Power Line Frequency", min: 0, max: 2, step: 1, def: 1, value: 1,
				menu: map[uint32]string{0: "Disabled", 1: "50 Hz", 2: "60 Hz"}},
			{id: CIDPanRelative, typ: CtrlTypeInteger, name: "Pan, Relative", min: -128, max: 128, step: 1, flags: CtrlFlagWriteOnly},
			{id: CIDFocusAbsolute, typ: CtrlTypeInteger, name: "Focus, Absolute", min: 0, max: 250, step: 5, value: 0},
		},
		parmCaps:      capTimePerFrame,
		errs:          map[uintptr][]error{},
		rejectFormat:  map[uint32]bool{},
		failSubscribe: map[uint32]bool{},
		mmapFailAt:    -1,
		subs:          map[uint32]bool{},
		calls:         map[uintptr]int{},
	}
}

func (d *fakeDevice) failNext(req uintptr, errs ...error) {
	d.errs[req] = append(d.errs[req], errs...)
}

func (d *fakeDevice) control(id uint32) *fakeControl {
	for _, c := range d.controls {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (d *fakeDevice) format(pixfmt uint32) *fakeFormat {
	for i := range d.formats {
		if d.formats[i].pixfmt == pixfmt {
			return &d.formats[i]
		}
	}
	return nil
}

func (d *fakeDevice) Open(string) (int, error) {
	if d.openErr != nil {
		return -1, d.openErr
	}
	d.isOpen = true
	return 7, nil
}

func (d *fakeDevice) Close(int) error {
	d.isOpen = false
	return nil
}

func (d *fakeDevice) Mmap(_ int, _ int64, length int) ([]byte, error) {
	d.mmaps++
	if d.mmapFailAt >= 0 && d.mmaps > d.mmapFailAt {
		return nil, unix.ENOMEM
	}
	d.mapped++
	return make([]byte, length), nil
}

func (d *fakeDevice) Munmap([]byte) error {
	d.mapped--
	return nil
}

func (d *fakeDevice) Read(_ int, p []byte) (int, error) {
	if len(d.readData) == 0 {
		return 0, unix.EAGAIN
	}
	return copy(p, d.readData), nil
}

func (d *fakeDevice) Poll(int, time.Duration) (bool, error) {
	return d.pollReady, nil
}

func (d *fakeDevice) Ioctl(_ int, req uintptr, arg unsafe.Pointer) error {
	d.calls[req]++
	// A nil entry lets that call through to the normal handling.
	if q := d.errs[req]; len(q) > 0 {
		d.errs[req] = q[1:]
		if q[0] != nil {
			if req == vidiocQueryctrl {
				d.queryIDs = append(d.queryIDs, (*v4l2Queryctrl)(arg).id)
			}
			return q[0]
		}
	}

	switch req {
	case vidiocQuerycap:
		c := (*v4l2Capability)(arg)
		copy(c.driver[:], "uvcvideo")
		copy(c.card[:], "Fake Camera")
		copy(c.busInfo[:], "usb-0000:00:14.0-1")
		c.capabilities = d.caps
		c.deviceCaps = d.deviceCaps

	case vidiocEnumFmt:
		f := (*v4l2Fmtdesc)(arg)
		if int(f.index) >= len(d.formats) {
			return unix.EINVAL
		}
		ff := d.formats[f.index]
		f.pixelformat = ff.pixfmt
		copy(f.description[:], ff.desc)

	case vidiocEnumFramesizes:
		f := (*v4l2Frmsizeenum)(arg)
		ff := d.format(f.pixelFormat)
		if ff == nil {
			return unix.EINVAL
		}
		if ff.stepwise {
			if f.index > 0 || len(ff.sizes) < 2 {
				return unix.EINVAL
			}
			f.typ = frmsizeTypeStepwise
			f.stepwise = v4l2FrmsizeStepwise{
				minWidth: ff.sizes[0][0], maxWidth: ff.sizes[1][0], stepWidth: 8,
				minHeight: ff.sizes[0][1], maxHeight: ff.sizes[1][1], stepHeight: 8,
			}
			return nil
		}
		if int(f.index) >= len(ff.sizes) {
			return unix.EINVAL
		}
		f.typ = frmsizeTypeDiscrete
		f.stepwise.minWidth = ff.sizes[f.index][0]
		f.stepwise.maxWidth = ff.sizes[f.index][1]

	case vidiocEnumFrameintervals:
		f := (*v4l2Frmivalenum)(arg)
		if int(f.index) >= len(d.intervals) {
			return unix.EINVAL
		}
		f.typ = frmivalTypeDiscrete
		f.min = d.intervals[f.index]

	case vidiocSFmt:
		f := (*v4l2Format)(arg)
		if d.reqCount > 0 {
			return unix.EBUSY
		}
		if d.rejectFormat[f.pix.pixelformat] || d.format(f.pix.pixelformat) == nil {
			return unix.EINVAL
		}
		if d.adjustTo != nil {
			f.pix.width, f.pix.height = d.adjustTo[0], d.adjustTo[1]
		}
		f.pix.bytesperline = f.pix.width * 2
		f.pix.sizeimage = f.pix.width * f.pix.height * 2
		d.pix = f.pix

	case vidiocGParm:
		p := (*v4l2Streamparm)(arg)
		p.capture.capability = d.parmCaps
		p.capture.timeperframe = d.parm

	case vidiocSParm:
		p := (*v4l2Streamparm)(arg)
		d.parm = p.capture.timeperframe
		p.capture.capability = d.parmCaps

	case vidiocReqbufs:
		r := (*v4l2Requestbuffers)(arg)
		if d.streaming {
			return unix.EBUSY
		}
		d.reqCount = r.count
		d.queue = nil

	case vidiocQuerybuf:
		b := (*v4l2Buffer)(arg)
		if b.index >= d.reqCount {
			return unix.EINVAL
		}
		b.length = d.pix.sizeimage
		b.offset = b.index * 4096

	case vidiocQbuf:
		b := (*v4l2Buffer)(arg)
		if b.index >= d.reqCount {
			return unix.EINVAL
		}
		for _, q := range d.queue {
			if q == b.index {
				return unix.EINVAL
			}
		}
		d.queue = append(d.queue, b.index)

	case vidiocDqbuf:
		b := (*v4l2Buffer)(arg)
		if !d.streaming || len(d.queue) == 0 {
			return unix.EAGAIN
		}
		b.index = d.queue[0]
		d.queue = d.queue[1:]
		b.bytesused = d.pix.sizeimage / 2
		d.sequence++
		b.sequence = d.sequence

	case vidiocStreamon:
		if d.reqCount == 0 {
			return unix.EINVAL
		}
		d.streaming = true

	case vidiocStreamoff:
		if !d.streaming {
			return unix.EINVAL
		}
		d.streaming = false
		d.queue = nil

	case vidiocQueryctrl:
		q := (*v4l2Queryctrl)(arg)
		d.queryIDs = append(d.queryIDs, q.id)
		after := q.id &^ CtrlFlagNextCtrl
		var next *fakeControl
		for _, c := range d.controls {
			if c.id > after && (next == nil || c.id < next.id) {
				next = c
			}
		}
		if next == nil {
			return unix.EINVAL
		}
		*q = v4l2Queryctrl{
			id: next.id, typ: next.typ, minimum: next.min, maximum: next.max,
			step: next.step, defaultValue: next.def, flags: next.flags,
		}
		copy(q.name[:], next.name)
		return nil

	case vidiocQuerymenu:
		m := (*v4l2Querymenu)(arg)
		c := d.control(m.id)
		if c == nil {
			return unix.EINVAL
		}
		if name, ok := c.menu[m.index]; ok {
			copy(m.name[:], name)
			return nil
		}
		if v, ok := c.intMenu[m.index]; ok {
			binary.LittleEndian.PutUint64(m.name[:8], uint64(v))
			return nil
		}
		return unix.EINVAL

	case vidiocGCtrl:
		ctrl := (*v4l2Control)(arg)
		c := d.control(ctrl.id)
		if c == nil || c.flags&CtrlFlagWriteOnly != 0 {
			return unix.EACCES
		}
		ctrl.value = c.value

	case vidiocSCtrl:
		ctrl := (*v4l2Control)(arg)
		c := d.control(ctrl.id)
		if c == nil {
			return unix.EINVAL
		}
		c.value = ctrl.value

	case vidiocGExtCtrls, vidiocSExtCtrls:
		ctrls := (*v4l2ExtControls)(arg)
		ext := ctrls.controls
		c := d.control(ext.id)
		if c == nil {
			return unix.EINVAL
		}
		if c.typ == CtrlTypeString {
			buf := stringPayload(ext)
			if req == vidiocGExtCtrls {
				copy(buf, c.str)
			} else {
				c.str = cstr(buf)
			}
			return nil
		}
		if req == vidiocGExtCtrls {
			ext.setValue64(c.value64)
		} else {
			c.value64 = ext.value64()
		}

	case vidiocSubscribeEvent:
		sub := (*v4l2EventSubscription)(arg)
		if d.failSubscribe[sub.id] {
			return unix.EINVAL
		}
		d.subs[sub.id] = true

	case vidiocUnsubscribeEvent:
		sub := (*v4l2EventSubscription)(arg)
		if sub.typ == eventAll {
			d.subs = map[uint32]bool{}
		} else {
			delete(d.subs, sub.id)
		}

	case vidiocDqevent:
		if len(d.events) == 0 {
			return unix.ENOENT
		}
		*(*v4l2Event)(arg) = d.events[0]
		d.events = d.events[1:]

	default:
		return unix.ENOTTY
	}
	return nil
}

// ctrlEvent builds a value-change event for a control.
func ctrlEvent(id, typ uint32, value int64) v4l2Event {
	ev := v4l2Event{typ: eventCtrl, id: id}
	binary.LittleEndian.PutUint32(ev.u[0:4], EventCtrlChValue)
	binary.LittleEndian.PutUint32(ev.u[4:8], typ)
	binary.LittleEndian.PutUint64(ev.u[8:16], uint64(value))
	return ev
}

// recordingObserver counts gateway and session notifications.
type recordingObserver struct {
	retried   map[string]int
	exhausted map[string]int
	states    []StreamState
	mapped    []int
	frames    int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{retried: map[string]int{}, exhausted: map[string]int{}}
}

func (o *recordingObserver) IoctlRetried(req string) { o.retried[req]++ }
func (o *recordingObserver) IoctlExhausted(req string) { o.exhausted[req]++ }
func (o *recordingObserver) StreamStateChanged(_ string, s StreamState) {
	o.states = append(o.states, s)
}
func (o *recordingObserver) BuffersMapped(_ string, n int) { o.mapped = append(o.mapped, n) }
func (o *recordingObserver) FrameDequeued(string, int) { o.frames++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openFake(dev *fakeDevice, opts ...Option) (*Session, error) {
	base := []Option{
		WithBackend(dev),
		WithLogger(discardLogger()),
		WithFatalHandler(func(error) {}),
	}
	return Open("/dev/video0", append(base, opts...)...)
}

// stringPayload returns the caller's buffer addressed by the control union.
// The address is copied byte-wise into a typed pointer, so it never passes
// through a uintptr.
func stringPayload(ext *v4l2ExtControl) []byte {
	var p *byte
	copy((*[unsafe.Sizeof(p)]byte)(unsafe.Pointer(&p))[:], ext.value[:])
	return unsafe.Slice(p, ext.size)
}
