//go:build linux

package metrics

import (
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// Observer feeds session and gateway notifications into Prometheus.
type Observer struct{}

var _ v4l2.Observer = Observer{}

// NewObserver returns an Observer for v4l2.WithObserver.
func NewObserver() Observer {
	return Observer{}
}

// IoctlRetried implements v4l2.Observer.
func (Observer) IoctlRetried(request string) {
	ioctlRetries.WithLabelValues(request).Inc()
}

// IoctlExhausted implements v4l2.Observer.
func (Observer) IoctlExhausted(request string) {
	ioctlExhausted.WithLabelValues(request).Inc()
}

// StreamStateChanged implements v4l2.Observer.
func (Observer) StreamStateChanged(device string, state v4l2.StreamState) {
	streamState.WithLabelValues(device).Set(float64(state))
}

// BuffersMapped implements v4l2.Observer.
func (Observer) BuffersMapped(device string, count int) {
	buffersMapped.WithLabelValues(device).Set(float64(count))
}

// FrameDequeued implements v4l2.Observer.
func (Observer) FrameDequeued(device string, bytes int) {
	framesTotal.WithLabelValues(device).Inc()
	frameBytes.WithLabelValues(device).Add(float64(bytes))
}
