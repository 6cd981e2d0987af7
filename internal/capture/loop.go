//go:build linux

package capture

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// loop is the capture goroutine body for one open session.
func (r *Runner) loop(ctx context.Context, sess Session, cfg config.SessionConfig, st *streamTracker, discovered <-chan events.DeviceDiscoveryEvent) (exitReason, error) {
	node := resolveNode(sess.Path())
	meter := rateMeter{window: r.fpsWindow, start: r.now()}
	stopReason := exitShutdown
	timeouts := 0

	for {
		select {
		case <-ctx.Done():
			sess.RequestStop()
			st.observe(sess)
		case next := <-r.reloadCh:
			reason, done, err := r.reload(sess, cfg, next)
			st.observe(sess)
			if done {
				return reason, err
			}
			cfg = next
			meter.reset(r.now())
		case ev := <-discovered:
			if ev.Action == events.ActionRemoved && ev.DevicePath == node {
				r.logger.Warn("Capture device removed", "device", ev.DevicePath)
				return exitDeviceLost, nil
			}
		default:
		}
		if sess.StopRequested() || ctx.Err() != nil {
			return stopReason, nil
		}

		err := sess.WaitFrame(r.waitTimeout)
		switch {
		case err == nil:
			timeouts = 0
		case errors.Is(err, v4l2.ErrSelectTimeout):
			timeouts++
			r.logger.Warn("Timed out waiting for frame", "device", sess.Path(), "timeouts", timeouts)
			r.publishError(sess.Path(), "wait frame", err)
			if timeouts >= maxTimeouts {
				return exitFailed, err
			}
			continue
		default:
			r.publishError(sess.Path(), "wait frame", err)
			return classify(err), err
		}

		frame, err := sess.Dequeue()
		if errors.Is(err, v4l2.ErrNoFrame) {
			r.drainControlEvents(sess)
			continue
		}
		if err != nil {
			r.publishError(sess.Path(), "dequeue", err)
			return classify(err), err
		}

		var sinkErr error
		if r.sink != nil {
			sinkErr = r.sink.WriteFrame(frame)
		}
		if err := sess.Requeue(frame.Index); err != nil {
			r.publishError(sess.Path(), "requeue", err)
			return classify(err), err
		}
		if sinkErr != nil {
			r.publishError(sess.Path(), "sink", sinkErr)
			return exitFatal, sinkErr
		}

		total := r.countFrame()
		if fps, ok := meter.add(r.now()); ok {
			r.update(func(i *Info) { i.FPS = fps })
			events.Publish(r.bus, events.FrameRateEvent{
				DevicePath: sess.Path(),
				FPS:        fps,
				Frames:     total,
				Timestamp:  events.Timestamp(r.now()),
			})
		}
		r.drainControlEvents(sess)

		if r.frameLimit > 0 && total >= r.frameLimit {
			sess.RequestStop()
			st.observe(sess)
			stopReason = exitDone
		}
	}
}

func (r *Runner) countFrame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.Frames++
	return r.info.Frames
}

// classify maps a capture error to how the runner recovers from it.
func classify(err error) exitReason {
	if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO) {
		return exitDeviceLost
	}
	return exitFailed
}

// drainControlEvents publishes pending kernel control changes.
func (r *Runner) drainControlEvents(sess Session) {
	if len(sess.Subscribed()) == 0 {
		return
	}
	for i := 0; i < maxEventsPerFrame; i++ {
		ev, err := sess.DequeueControlEvent()
		if err != nil {
			if !errors.Is(err, v4l2.ErrNoEvent) {
				r.logger.Debug("Control event dequeue failed", "device", sess.Path(), "error", err)
			}
			return
		}
		if ev.Changes&v4l2.EventCtrlChValue == 0 {
			continue
		}
		var name string
		if c, ok := sess.Control(ev.ID); ok {
			name = c.Name
		}
		r.logger.Debug("Control changed", "device", sess.Path(), "control", name, "value", ev.Value)
		events.Publish(r.bus, events.ControlChangedEvent{
			DevicePath: sess.Path(),
			ControlID:  ev.ID,
			Name:       name,
			Value:      ev.Value,
			Source:     events.SourceKernel,
			Timestamp:  events.Timestamp(r.now()),
		})
	}
}

// rateMeter turns frame arrivals into a framerate once per window.
type rateMeter struct {
	window time.Duration
	start  time.Time
	frames uint64
}

func (m *rateMeter) add(now time.Time) (float64, bool) {
	m.frames++
	elapsed := now.Sub(m.start)
	if elapsed < m.window || elapsed <= 0 {
		return 0, false
	}
	fps := float64(m.frames) / elapsed.Seconds()
	m.reset(now)
	return fps, true
}

func (m *rateMeter) reset(now time.Time) {
	m.start = now
	m.frames = 0
}
