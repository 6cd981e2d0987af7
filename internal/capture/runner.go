//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// ErrDeviceLost is returned when the device disappears and retries are off.
var ErrDeviceLost = errors.New("capture device lost")

// Defaults for the capture loop.
const (
	DefaultWaitTimeout = 2 * time.Second
	DefaultFPSWindow   = time.Second
	// maxTimeouts consecutive wait timeouts make the runner reopen the device.
	maxTimeouts = 5
	// maxEventsPerFrame bounds control events drained between two frames.
	maxEventsPerFrame = 8
)

// State is the runner's lifecycle state.
type State string

// Runner states.
const (
	StateIdle      State = "idle"
	StateOpening   State = "opening"
	StateStreaming State = "streaming"
	StateWaiting   State = "waiting"
	StateStopped   State = "stopped"
)

// Info is a snapshot of the runner.
type Info struct {
	Device    string
	State     State
	Format    v4l2.Format
	Framerate v4l2.Framerate
	FPS       float64
	Frames    uint64
	Restarts  int
	LastError error
}

// FrameSink receives every dequeued frame before its buffer is requeued.
// The frame data must not be retained after WriteFrame returns.
type FrameSink interface {
	WriteFrame(v4l2.Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(v4l2.Frame) error

// WriteFrame calls f.
func (f FrameSinkFunc) WriteFrame(fr v4l2.Frame) error { return f(fr) }

type exitReason int

const (
	exitShutdown exitReason = iota
	exitDone
	exitReload
	exitDeviceLost
	exitFailed
	exitFatal
)

func (r exitReason) String() string {
	switch r {
	case exitShutdown:
		return "shutdown"
	case exitDone:
		return "done"
	case exitReload:
		return "reload"
	case exitDeviceLost:
		return "device lost"
	case exitFailed:
		return "failed"
	default:
		return "fatal"
	}
}

// Runner keeps one capture session streaming.
type Runner struct {
	bus         *events.Bus
	logger      *slog.Logger
	open        Opener
	sessionOpts []v4l2.Option
	sink        FrameSink
	frameLimit  uint64
	waitTimeout time.Duration
	fpsWindow   time.Duration
	retryDelay  time.Duration
	now         func() time.Time

	reloadCh chan config.SessionConfig

	mu   sync.RWMutex
	cfg  config.SessionConfig
	info Info
}

// Option configures a Runner.
type Option func(*Runner)

// WithOpener replaces the device opener.
func WithOpener(open Opener) Option {
	return func(r *Runner) { r.open = open }
}

// WithSessionOptions adds options passed to every session open.
func WithSessionOptions(opts ...v4l2.Option) Option {
	return func(r *Runner) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// WithSink hands every frame to sink.
func WithSink(sink FrameSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithFrameLimit stops the runner after n frames. Zero means no limit.
func WithFrameLimit(n uint64) Option {
	return func(r *Runner) { r.frameLimit = n }
}

// WithWaitTimeout bounds each wait for a frame.
func WithWaitTimeout(d time.Duration) Option {
	return func(r *Runner) { r.waitTimeout = d }
}

// WithFPSWindow sets how often the measured framerate is published.
func WithFPSWindow(d time.Duration) Option {
	return func(r *Runner) { r.fpsWindow = d }
}

// WithRetry makes the runner reopen the device after failures, waiting at
// most d between attempts. Without it the first failure ends Run.
func WithRetry(d time.Duration) Option {
	return func(r *Runner) { r.retryDelay = d }
}

// WithLogger replaces the capture module logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for cfg publishing on bus. bus may be nil.
func NewRunner(cfg config.SessionConfig, bus *events.Bus, opts ...Option) *Runner {
	r := &Runner{
		bus:         bus,
		logger:      logging.GetLogger(logging.ModuleCapture),
		open:        OpenV4L2,
		waitTimeout: DefaultWaitTimeout,
		fpsWindow:   DefaultFPSWindow,
		now:         time.Now,
		reloadCh:    make(chan config.SessionConfig, 1),
		cfg:         cfg,
		info:        Info{Device: cfg.Device.Path, State: StateIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Info returns a snapshot of the runner state.
func (r *Runner) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// Config returns the configuration the runner is using.
func (r *Runner) Config() config.SessionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Apply hands a new configuration to the capture goroutine. A pending,
// not yet applied configuration is replaced.
func (r *Runner) Apply(cfg config.SessionConfig) {
	for {
		select {
		case r.reloadCh <- cfg:
			r.logger.Info("Configuration update queued", "device", cfg.Device.Path)
			return
		default:
		}
		select {
		case <-r.reloadCh:
		default:
		}
	}
}

func (r *Runner) setState(state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.State = state
	if err != nil {
		r.info.LastError = err
	}
}

func (r *Runner) update(fn func(*Info)) {
	r.mu.Lock()
	fn(&r.info)
	r.mu.Unlock()
}

// Run captures until ctx is cancelled, the frame limit is reached or a
// failure occurs with retries disabled. Cancellation returns nil.
func (r *Runner) Run(ctx context.Context) error {
	discovered := make(chan events.DeviceDiscoveryEvent, 8)
	unsub := events.SubscribeToChannel(r.bus, discovered)
	defer unsub()
	defer r.setState(StateStopped, nil)

	for {
		reason, err := r.runOnce(ctx, discovered)
		switch reason {
		case exitShutdown, exitDone:
			r.logger.Info("Capture finished", "reason", reason.String())
			return nil
		case exitFatal:
			return err
		case exitReload:
			r.logger.Info("Reopening device for new configuration")
			continue
		}

		r.setState(StateWaiting, err)
		r.update(func(i *Info) { i.Restarts++ })
		if r.retryDelay <= 0 {
			if reason == exitDeviceLost && err == nil {
				return ErrDeviceLost
			}
			return err
		}
		r.logger.Warn("Capture interrupted, waiting for device", "reason", reason.String(), "error", err)
		if !r.waitForDevice(ctx, discovered) {
			return nil
		}
	}
}

// waitForDevice sleeps up to the retry delay, waking early when the device
// is added back or a configuration arrives. It reports false on shutdown.
func (r *Runner) waitForDevice(ctx context.Context, discovered <-chan events.DeviceDiscoveryEvent) bool {
	timer := time.NewTimer(r.retryDelay)
	defer timer.Stop()

	node := resolveNode(r.Config().Device.Path)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case cfg := <-r.reloadCh:
			r.setConfig(cfg)
			return true
		case ev := <-discovered:
			if ev.Action == events.ActionAdded && ev.DevicePath == node {
				r.logger.Info("Device is back", "device", ev.DevicePath)
				return true
			}
		}
	}
}

func (r *Runner) setConfig(cfg config.SessionConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.info.Device = cfg.Device.Path
	r.mu.Unlock()
}

// runOnce opens the device, streams until something ends the session and
// always leaves the device closed.
func (r *Runner) runOnce(ctx context.Context, discovered <-chan events.DeviceDiscoveryEvent) (exitReason, error) {
	if ctx.Err() != nil {
		return exitShutdown, nil
	}
	cfg := r.Config()
	r.setState(StateOpening, nil)

	sess, err := r.openSession(cfg)
	if err != nil {
		r.publishError(cfg.Device.Path, "open", err)
		return exitFailed, err
	}
	st := &streamTracker{runner: r, device: sess.Path()}
	defer func() {
		if err := sess.Stop(); err != nil {
			r.logger.Warn("Stream off failed", "device", sess.Path(), "error", err)
		}
		st.observe(sess)
		if err := sess.Close(); err != nil {
			r.logger.Warn("Close failed", "device", sess.Path(), "error", err)
		}
	}()

	if err := r.configure(sess, cfg); err != nil {
		r.publishError(sess.Path(), "configure", err)
		return exitFailed, err
	}
	if err := sess.Start(); err != nil {
		r.publishError(sess.Path(), "start", err)
		return exitFailed, err
	}
	st.observe(sess)
	r.setState(StateStreaming, nil)

	return r.loop(ctx, sess, cfg, st, discovered)
}

func (r *Runner) openSession(cfg config.SessionConfig) (Session, error) {
	method, err := v4l2.ParseCaptureMethod(cfg.Device.Method)
	if err != nil {
		return nil, err
	}
	opts := []v4l2.Option{
		v4l2.WithCaptureMethod(method),
		v4l2.WithBufferCount(cfg.Device.Buffers),
		v4l2.WithLogger(logging.GetLogger(logging.ModuleV4L2)),
	}
	if cfg.Format.FPS > 0 {
		opts = append(opts, v4l2.WithFramerate(v4l2.Framerate{Numerator: 1, Denominator: cfg.Format.FPS}))
	}
	opts = append(opts, r.sessionOpts...)

	sess, err := r.open(cfg.Device.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device.Path, err)
	}
	r.logger.Info("Device opened", "device", sess.Path(), "card", sess.Card(), "method", sess.Method().String())
	return sess, nil
}

// resolveNode follows a by-id or by-path symlink to the node discovery reports.
func resolveNode(path string) string {
	if target, err := filepath.EvalSymlinks(path); err == nil {
		return target
	}
	return path
}

// streamTracker publishes stream state transitions as the runner sees them.
type streamTracker struct {
	runner *Runner
	device string
	last   v4l2.StreamState
}

func (t *streamTracker) observe(sess Session) {
	state := sess.State()
	if state == t.last {
		return
	}
	events.Publish(t.runner.bus, events.StreamStateChangedEvent{
		DevicePath: t.device,
		State:      state.String(),
		Previous:   t.last.String(),
		Timestamp:  events.Timestamp(t.runner.now()),
	})
	t.last = state
}

func (r *Runner) publishError(device, op string, err error) {
	var verr *v4l2.Error
	if errors.As(err, &verr) && verr.Op != "" {
		op = verr.Op
	}
	r.logger.Error("Capture error", "device", device, "op", op, "error", err)
	r.setState(r.Info().State, err)
	events.Publish(r.bus, events.CaptureErrorEvent{
		DevicePath: device,
		Op:         op,
		Code:       int(v4l2.CodeOf(err)),
		Error:      err.Error(),
		Timestamp:  events.Timestamp(r.now()),
	})
}
