// Package metrics exposes capture session health as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "uvccore"

var (
	ioctlRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "v4l2",
		Name:      "ioctl_retries_total",
		Help:      "Device requests retried after a transient error",
	}, []string{"request"})

	ioctlExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "v4l2",
		Name:      "ioctl_exhausted_total",
		Help:      "Device requests that failed after every retry",
	}, []string{"request"})

	streamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "stream",
		Name:      "state",
		Help:      "Stream state: 0 stopped, 1 stop requested, 2 active",
	}, []string{"device"})

	buffersMapped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "stream",
		Name:      "buffers_mapped",
		Help:      "Driver buffers currently mapped",
	}, []string{"device"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames dequeued from the driver",
	}, []string{"device"})

	frameBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "capture",
		Name:      "bytes_total",
		Help:      "Payload bytes of dequeued frames",
	}, []string{"device"})

	captureFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "capture",
		Name:      "fps",
		Help:      "Measured capture frame rate",
	}, []string{"device"})

	captureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "capture",
		Name:      "errors_total",
		Help:      "Capture failures by result code",
	}, []string{"device", "code"})

	devicesPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "discovery",
		Name:      "devices",
		Help:      "Capture device nodes currently present",
	})

	uvcStats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "uvcvideo",
		Name:      "stream_stat",
		Help:      "uvcvideo debugfs stream counters",
	}, []string{"stream", "stat"})
)

// SetCaptureFPS records the measured frame rate of a device.
func SetCaptureFPS(device string, fps float64) {
	captureFPS.WithLabelValues(device).Set(fps)
}

// IncCaptureError counts a capture failure.
func IncCaptureError(device, code string) {
	captureErrors.WithLabelValues(device, code).Inc()
}

// SetDevicesPresent records how many capture devices are plugged in.
func SetDevicesPresent(n int) {
	devicesPresent.Set(float64(n))
}

// SetUVCStat records one counter from a uvcvideo stats file.
func SetUVCStat(stream, stat string, value float64) {
	uvcStats.WithLabelValues(stream, stat).Set(value)
}

// DeleteDeviceMetrics removes every per-device series for device.
func DeleteDeviceMetrics(device string) {
	streamState.DeleteLabelValues(device)
	buffersMapped.DeleteLabelValues(device)
	framesTotal.DeleteLabelValues(device)
	frameBytes.DeleteLabelValues(device)
	captureFPS.DeleteLabelValues(device)
	captureErrors.DeletePartialMatch(prometheus.Labels{"device": device})
}
