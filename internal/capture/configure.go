//go:build linux

package capture

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smazurov/uvccore/internal/config"
	"github.com/smazurov/uvccore/internal/events"
	"github.com/smazurov/uvccore/pkg/linuxav/v4l2"
)

// configure commits the format and applies every configured control.
func (r *Runner) configure(sess Session, cfg config.SessionConfig) error {
	if err := r.commitFormat(sess, cfg.Format); err != nil {
		return err
	}
	r.applyControls(sess, cfg.Controls, nil)
	return nil
}

func (r *Runner) commitFormat(sess Session, f config.FormatConfig) error {
	pixfmt, width, height, err := chooseFormat(sess.Formats(), f)
	if err != nil {
		return err
	}
	if unlistedSize(sess.Formats(), pixfmt, width, height) {
		r.logger.Warn("Requested size is not listed by the device",
			"fourcc", v4l2.FormatFourCC(pixfmt), "width", width, "height", height)
	}
	if err := sess.CommitFormat(width, height, pixfmt); err != nil {
		return err
	}

	committed := sess.Committed()
	rate := sess.Framerate()
	r.update(func(i *Info) {
		i.Format = committed
		i.Framerate = rate
	})
	ev := events.FormatCommittedEvent{
		DevicePath:   sess.Path(),
		Requested:    strings.TrimSpace(v4l2.FormatFourCC(pixfmt)),
		FourCC:       strings.TrimSpace(v4l2.FormatFourCC(committed.PixelFormat)),
		Width:        committed.Width,
		Height:       committed.Height,
		BytesPerLine: committed.BytesPerLine,
		SizeImage:    committed.SizeImage,
		FPS:          rate.FPS(),
		Buffers:      len(sess.Buffers()),
		Timestamp:    events.Timestamp(r.now()),
	}
	if ev.Substituted() {
		r.logger.Info("Driver substituted pixel format", "requested", ev.Requested, "fourcc", ev.FourCC)
	}
	events.Publish(r.bus, ev)
	return nil
}

// chooseFormat fills the gaps of a requested format from what the device
// lists: the first supported pixel format and that format's first size.
func chooseFormat(formats []v4l2.StreamFormat, f config.FormatConfig) (pixfmt, width, height uint32, err error) {
	if f.PixelFormat != "" {
		p, ok := v4l2.ParseFourCC(f.PixelFormat)
		if !ok {
			return 0, 0, 0, fmt.Errorf("invalid pixel format %q", f.PixelFormat)
		}
		pixfmt = p
	} else {
		for _, sf := range formats {
			if sf.Supported {
				pixfmt = sf.PixelFormat
				break
			}
		}
		if pixfmt == 0 && len(formats) > 0 {
			pixfmt = formats[0].PixelFormat
		}
		if pixfmt == 0 {
			return 0, 0, 0, fmt.Errorf("device lists no pixel formats")
		}
	}

	width, height = f.Width, f.Height
	if width == 0 || height == 0 {
		for _, sf := range formats {
			if sf.PixelFormat == pixfmt && len(sf.Resolutions) > 0 {
				width, height = sf.Resolutions[0].Width, sf.Resolutions[0].Height
				break
			}
		}
	}
	return pixfmt, width, height, nil
}

// unlistedSize reports whether the device lists pixfmt with discrete sizes
// that do not include width x height. The driver then picks the nearest size.
func unlistedSize(formats []v4l2.StreamFormat, pixfmt, width, height uint32) bool {
	for _, sf := range formats {
		if sf.PixelFormat == pixfmt {
			return len(sf.Resolutions) > 0 && !sf.HasSize(width, height)
		}
	}
	return false
}

// applyControls sets every control in want whose value differs from prev.
// Unknown or refused controls are logged and skipped.
func (r *Runner) applyControls(sess Session, want, prev map[string]int64) {
	keys := make([]string, 0, len(want))
	for k, v := range want {
		if old, ok := prev[k]; ok && old == v {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value := want[k]
		ctrl, ok := lookupControl(sess, config.ParseControlKey(k))
		if !ok {
			r.logger.Warn("Unknown control", "device", sess.Path(), "control", k)
			continue
		}
		if err := sess.SetControl(ctrl.ID, value); err != nil {
			r.logger.Warn("Failed to set control", "device", sess.Path(), "control", ctrl.Name, "value", value, "error", err)
			continue
		}
		r.logger.Debug("Control applied", "device", sess.Path(), "control", ctrl.Name, "value", value)
		events.Publish(r.bus, events.ControlChangedEvent{
			DevicePath: sess.Path(),
			ControlID:  ctrl.ID,
			Name:       ctrl.Name,
			Value:      value,
			Source:     events.SourceConfig,
			Timestamp:  events.Timestamp(r.now()),
		})
	}
}

func lookupControl(sess Session, key config.ControlKey) (*v4l2.Control, bool) {
	if key.Name == "" {
		return sess.Control(key.ID)
	}
	return sess.ControlByName(key.Name)
}

// reload applies next to a running session. Device changes need a reopen;
// format and control changes are applied in place.
func (r *Runner) reload(sess Session, cur, next config.SessionConfig) (exitReason, bool, error) {
	if next.Device != cur.Device {
		r.setConfig(next)
		return exitReload, true, nil
	}

	if next.Format != cur.Format {
		if next.Format.FPS > 0 && next.Format.FPS != cur.Format.FPS {
			if err := sess.SetFramerate(v4l2.Framerate{Numerator: 1, Denominator: next.Format.FPS}); err != nil {
				r.logger.Warn("Failed to set framerate", "device", sess.Path(), "fps", next.Format.FPS, "error", err)
			}
		}
		if err := r.commitFormat(sess, next.Format); err != nil {
			r.setConfig(next)
			r.publishError(sess.Path(), "commit format", err)
			return exitFailed, true, err
		}
	}
	r.applyControls(sess, next.Controls, cur.Controls)
	r.setConfig(next)
	return 0, false, nil
}
