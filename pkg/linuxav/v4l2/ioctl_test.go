//go:build linux

package v4l2

import (
	"errors"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func newTestGateway(dev *fakeDevice, obs Observer) *gateway {
	return &gateway{
		backend:  dev,
		attempts: MaxIoctlAttempts,
		logger:   discardLogger(),
		observer: obs,
	}
}

func TestGatewayRetries(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		wantErr       error
		wantCalls     int
		wantExhausted int
	}{
		{
			name:      "success on first attempt",
			wantCalls: 1,
		},
		{
			name:      "transient errors absorbed",
			errs:      []error{unix.EINTR, unix.EAGAIN, unix.ETIMEDOUT},
			wantCalls: 4,
		},
		{
			name:          "retries exhausted",
			errs:          []error{unix.EINTR, unix.EINTR, unix.EINTR, unix.EINTR, unix.EINTR},
			wantErr:       unix.EINTR,
			wantCalls:     MaxIoctlAttempts,
			wantExhausted: 1,
		},
		{
			name:      "permanent error returned at once",
			errs:      []error{unix.EINVAL},
			wantErr:   unix.EINVAL,
			wantCalls: 1,
		},
		{
			name:      "EIO is not transient outside control queries",
			errs:      []error{unix.EIO},
			wantErr:   unix.EIO,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeCamera()
			dev.failNext(vidiocQuerycap, tt.errs...)
			obs := newRecordingObserver()
			gw := newTestGateway(dev, obs)

			var cp v4l2Capability
			err := gw.perform(7, vidiocQuerycap, unsafe.Pointer(&cp))
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("perform() error = %v, want %v", err, tt.wantErr)
			}
			if got := dev.calls[vidiocQuerycap]; got != tt.wantCalls {
				t.Errorf("ioctl calls = %d, want %d", got, tt.wantCalls)
			}
			if got := obs.exhausted["VIDIOC_QUERYCAP"]; got != tt.wantExhausted {
				t.Errorf("exhausted = %d, want %d", got, tt.wantExhausted)
			}
		})
	}
}

func TestPerformQueryRearmsNextControl(t *testing.T) {
	dev := newFakeCamera()
	dev.failNext(vidiocQueryctrl, unix.EIO, unix.EPIPE)
	gw := newTestGateway(dev, newRecordingObserver())

	var qc v4l2Queryctrl
	if err := gw.performQuery(7, 0x00980900, &qc); err != nil {
		t.Fatalf("performQuery() error = %v", err)
	}
	if qc.id != 0x00980901 {
		t.Errorf("next control = 0x%08x, want 0x00980901", qc.id)
	}
	if len(dev.queryIDs) != 3 {
		t.Fatalf("query attempts = %d, want 3", len(dev.queryIDs))
	}
	for i, id := range dev.queryIDs {
		if id != 0x00980900|CtrlFlagNextCtrl {
			t.Errorf("attempt %d queried 0x%08x, want 0x%08x", i, id, 0x00980900|CtrlFlagNextCtrl)
		}
	}
}

func TestPerformNonblockingReturnsEAGAIN(t *testing.T) {
	dev := newFakeCamera()
	dev.failNext(vidiocDqbuf, unix.EAGAIN)
	obs := newRecordingObserver()
	gw := newTestGateway(dev, obs)

	var b v4l2Buffer
	err := gw.performNonblocking(7, vidiocDqbuf, unsafe.Pointer(&b))
	if !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("performNonblocking() error = %v, want EAGAIN", err)
	}
	if dev.calls[vidiocDqbuf] != 1 {
		t.Errorf("ioctl calls = %d, want 1", dev.calls[vidiocDqbuf])
	}
	if len(obs.exhausted) != 0 {
		t.Errorf("EAGAIN reported as exhausted: %v", obs.exhausted)
	}
}

func TestWithIoctlAttemptsClamped(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 1},
		{1, 1},
		{3, 3},
		{10, MaxIoctlAttempts},
	}
	for _, tt := range tests {
		o := defaultOptions()
		WithIoctlAttempts(tt.in)(&o)
		if o.attempts != tt.want {
			t.Errorf("WithIoctlAttempts(%d) = %d, want %d", tt.in, o.attempts, tt.want)
		}
	}
}

func TestRequestNameUnknown(t *testing.T) {
	if got := RequestName(0x1234); got != "0x00001234" {
		t.Errorf("RequestName(0x1234) = %q", got)
	}
}
