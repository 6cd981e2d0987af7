//go:build linux

package v4l2

import (
	"fmt"
	"log/slog"
	"os"
)

// NBBuffer is the default size of the capture buffer pool.
const NBBuffer = 4

type options struct {
	method      CaptureMethod
	bufferCount int
	attempts    int
	backend     Backend
	logger      *slog.Logger
	observer    Observer
	fatal       func(error)
	framerate   Framerate
}

func defaultOptions() options {
	return options{
		method:      MethodMmap,
		bufferCount: NBBuffer,
		attempts:    MaxIoctlAttempts,
		backend:     SystemBackend{},
		logger:      slog.With("component", "linuxav"),
		observer:    nopObserver{},
		framerate:   DefaultFramerate,
	}
}

// Option configures a Session at Open time.
type Option func(*options)

// WithCaptureMethod selects mmap streaming (the default) or read() capture.
func WithCaptureMethod(m CaptureMethod) Option {
	return func(o *options) { o.method = m }
}

// WithBufferCount sets the number of buffers requested from the driver.
func WithBufferCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferCount = n
		}
	}
}

// WithIoctlAttempts sets how many times a transient ioctl failure is tried,
// clamped to 1..MaxIoctlAttempts.
func WithIoctlAttempts(n int) Option {
	return func(o *options) {
		o.attempts = min(max(n, 1), MaxIoctlAttempts)
	}
}

// WithBackend replaces the system call layer.
func WithBackend(b Backend) Option {
	return func(o *options) {
		if b != nil {
			o.backend = b
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a receiver for retry, stream and buffer notifications.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithFramerate sets the frame interval applied on format commit.
func WithFramerate(f Framerate) Option {
	return func(o *options) {
		if f.Numerator != 0 && f.Denominator != 0 {
			o.framerate = f
		}
	}
}

// WithFatalHandler replaces the handler invoked when control metadata cannot
// be allocated. The default logs and exits the process.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) { o.fatal = fn }
}

func (o *options) fatalHandler() func(error) {
	if o.fatal != nil {
		return o.fatal
	}
	logger := o.logger
	return func(err error) {
		logger.Error("fatal allocation failure", "error", err)
		fmt.Fprintf(os.Stderr, "v4l2: %v\n", err)
		os.Exit(1)
	}
}
