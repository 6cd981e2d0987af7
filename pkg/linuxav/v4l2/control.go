//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Limits on auxiliary control metadata. A driver reporting more than this
// cannot be served and is treated as an allocation failure.
const (
	maxMenuEntries  = 4096
	maxStringLength = 64 << 10
)

// enumerateControls walks the driver's control list with the next-control flag.
func (s *Session) enumerateControls() error {
	s.unsubscribeControls()
	s.controls = nil
	s.focusID = 0
	s.hasPanTilt = false

	var current uint32
	for {
		var qc v4l2Queryctrl
		if err := s.gw.performQuery(s.fd, current, &qc); err != nil {
			if !errors.Is(err, unix.EINVAL) {
				s.logger.Warn("control enumeration stopped", "after", fmt.Sprintf("0x%08x", current), "error", err)
			}
			break
		}
		current = qc.id

		added, err := s.addControl(&qc)
		if err != nil {
			return err
		}
		if added {
			s.subscribeControl(qc.id)
		}
	}

	s.RefreshControls()
	return nil
}

// addControl converts a queried descriptor into a Control and appends it.
func (s *Session) addControl(qc *v4l2Queryctrl) (bool, error) {
	if qc.flags&CtrlFlagDisabled != 0 {
		s.logger.Debug("skipping disabled control", "id", fmt.Sprintf("0x%08x", qc.id))
		return false, nil
	}

	c := Control{
		ID:      qc.id,
		Type:    qc.typ,
		Class:   qc.id & ctrlClassMask,
		Name:    cstr(qc.name[:]),
		Minimum: qc.minimum,
		Maximum: qc.maximum,
		Step:    qc.step,
		Default: qc.defaultValue,
		Flags:   qc.flags,
	}

	if c.IsMenu() {
		menu, err := s.queryMenu(qc)
		if err != nil {
			return false, err
		}
		c.Menu = menu
	}
	if c.Type == CtrlTypeString && (qc.maximum < 0 || qc.maximum >= maxStringLength) {
		return false, s.allocFailure(fmt.Errorf("control %q: string length %d", c.Name, qc.maximum))
	}

	switch c.ID {
	case CIDFocusLogitech, CIDFocusAbsolute:
		s.focusID = c.ID
	case CIDPanRelative, CIDTiltRelative:
		s.hasPanTilt = true
	}

	s.controls = append(s.controls, c)
	return true, nil
}

// queryMenu fetches every valid entry in minimum..maximum and appends the
// terminator entry. Indices the driver refuses are skipped. An empty range
// yields the terminator alone.
func (s *Session) queryMenu(qc *v4l2Queryctrl) ([]MenuEntry, error) {
	if qc.maximum < qc.minimum {
		return []MenuEntry{{Index: uint32(qc.maximum) + 1}}, nil
	}
	if int64(qc.maximum)-int64(qc.minimum) >= maxMenuEntries || qc.minimum < 0 {
		return nil, s.allocFailure(fmt.Errorf("control %q: menu range %d..%d", cstr(qc.name[:]), qc.minimum, qc.maximum))
	}

	var menu []MenuEntry
	for idx := uint32(qc.minimum); idx <= uint32(qc.maximum); idx++ {
		qm := v4l2Querymenu{id: qc.id, index: idx}
		if err := s.gw.perform(s.fd, vidiocQuerymenu, unsafe.Pointer(&qm)); err != nil {
			continue
		}
		entry := MenuEntry{Index: qm.index}
		if qc.typ == CtrlTypeIntegerMenu {
			entry.Value = qm.value()
			entry.Name = fmt.Sprintf("%d", entry.Value)
		} else {
			entry.Name = cstr(qm.name[:])
			entry.Value = int64(qm.index)
		}
		menu = append(menu, entry)
	}
	return append(menu, MenuEntry{Index: uint32(qc.maximum) + 1}), nil
}

// allocFailure routes unservable metadata sizes to the fatal handler. If the
// handler returns, the failure is reported as ErrAlloc.
func (s *Session) allocFailure(err error) error {
	s.fatal(err)
	return newError("enumerate controls", CodeAlloc, err)
}

// subscribeControl registers for change events. Failure only costs observability.
func (s *Session) subscribeControl(id uint32) {
	sub := v4l2EventSubscription{typ: eventCtrl, id: id}
	if err := s.gw.perform(s.fd, vidiocSubscribeEvent, unsafe.Pointer(&sub)); err != nil {
		s.logger.Warn("failed to subscribe control events", "id", fmt.Sprintf("0x%08x", id), "error", err)
		return
	}
	s.subscribed = append(s.subscribed, id)
}

func (s *Session) unsubscribeControls() {
	if len(s.subscribed) == 0 || s.fd < 0 {
		s.subscribed = nil
		return
	}
	sub := v4l2EventSubscription{typ: eventAll}
	if err := s.gw.perform(s.fd, vidiocUnsubscribeEvent, unsafe.Pointer(&sub)); err != nil {
		s.logger.Debug("failed to unsubscribe events", "error", err)
	}
	s.subscribed = nil
}

// Subscribed returns the IDs of controls registered for change events.
func (s *Session) Subscribed() []uint32 {
	return append([]uint32(nil), s.subscribed...)
}

// Controls returns the enumerated controls with their cached values.
func (s *Session) Controls() []Control {
	return s.controls
}

// Control returns the control with the given ID.
func (s *Session) Control(id uint32) (*Control, bool) {
	for i := range s.controls {
		if s.controls[i].ID == id {
			return &s.controls[i], true
		}
	}
	return nil, false
}

// ControlByName returns the first control with the given name.
func (s *Session) ControlByName(name string) (*Control, bool) {
	for i := range s.controls {
		if s.controls[i].Name == name {
			return &s.controls[i], true
		}
	}
	return nil, false
}

// RefreshControls reads the current value of every readable control.
// Controls the driver refuses to report keep their previous value.
func (s *Session) RefreshControls() {
	for i := range s.controls {
		c := &s.controls[i]
		if !c.Readable() {
			continue
		}
		if err := s.readControl(c); err != nil {
			s.logger.Debug("unable to read control", "name", c.Name, "error", err)
		}
	}
}

func (s *Session) readControl(c *Control) error {
	switch c.Type {
	case CtrlTypeInteger64:
		ext := v4l2ExtControl{id: c.ID}
		if err := s.extControls(vidiocGExtCtrls, &ext, nil); err != nil {
			return err
		}
		c.Value64 = ext.value64()
	case CtrlTypeString:
		buf := make([]byte, int(c.Maximum)+1)
		ext := v4l2ExtControl{id: c.ID, size: uint32(len(buf))}
		if err := s.extControls(vidiocGExtCtrls, &ext, buf); err != nil {
			return err
		}
		c.String = cstr(buf)
	default:
		ctrl := v4l2Control{id: c.ID}
		if err := s.gw.perform(s.fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
			return err
		}
		c.Value = ctrl.value
	}
	return nil
}

// extControls issues a single-control extended request. buf backs string payloads.
func (s *Session) extControls(req uintptr, ext *v4l2ExtControl, buf []byte) error {
	if buf != nil {
		ext.setPointer(buf)
	}
	ctrls := v4l2ExtControls{
		which:    ctrlWhichCurrent | (ext.id & ctrlClassMask),
		count:    1,
		controls: ext,
	}
	err := s.gw.perform(s.fd, req, unsafe.Pointer(&ctrls))
	runtime.KeepAlive(buf)
	return err
}

// SetControl writes an integer, boolean, menu, button or 64-bit control and
// updates the cached value with what the driver reports back.
func (s *Session) SetControl(id uint32, value int64) error {
	if err := s.checkOpen("set control", CodeDevice); err != nil {
		return err
	}
	c, ok := s.Control(id)
	if !ok {
		return newError("set control", CodeDevice, fmt.Errorf("unknown control 0x%08x", id))
	}
	if c.Flags&(CtrlFlagReadOnly|CtrlFlagGrabbed) != 0 {
		return newError("set control", CodeDevice, fmt.Errorf("control %q is not writable", c.Name))
	}

	switch c.Type {
	case CtrlTypeString, CtrlTypeCtrlClass:
		return newError("set control", CodeDevice, fmt.Errorf("control %q does not take an integer", c.Name))
	case CtrlTypeInteger64:
		ext := v4l2ExtControl{id: id}
		ext.setValue64(value)
		if err := s.extControls(vidiocSExtCtrls, &ext, nil); err != nil {
			return newError("set control", CodeDevice, err)
		}
		c.Value64 = ext.value64()
	default:
		if value < int64(c.Minimum) || value > int64(c.Maximum) {
			if c.Type != CtrlTypeButton {
				return newError("set control", CodeDevice,
					fmt.Errorf("value %d outside %d..%d for %q", value, c.Minimum, c.Maximum, c.Name))
			}
		}
		ctrl := v4l2Control{id: id, value: int32(value)}
		if err := s.gw.perform(s.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
			return newError("set control", CodeDevice, err)
		}
		c.Value = ctrl.value
	}
	s.logger.Debug("control set", "name", c.Name, "value", value)
	return nil
}

// SetStringControl writes a string control.
func (s *Session) SetStringControl(id uint32, value string) error {
	if err := s.checkOpen("set control", CodeDevice); err != nil {
		return err
	}
	c, ok := s.Control(id)
	if !ok || c.Type != CtrlTypeString {
		return newError("set control", CodeDevice, fmt.Errorf("no string control 0x%08x", id))
	}
	if len(value) > int(c.Maximum) {
		return newError("set control", CodeDevice, fmt.Errorf("string longer than %d bytes", c.Maximum))
	}
	buf := make([]byte, int(c.Maximum)+1)
	copy(buf, value)
	ext := v4l2ExtControl{id: id, size: uint32(len(buf))}
	if err := s.extControls(vidiocSExtCtrls, &ext, buf); err != nil {
		return newError("set control", CodeDevice, err)
	}
	c.String = value
	return nil
}

// DequeueControlEvent takes one pending control event from the driver and
// updates the cached control. It returns ErrNoEvent when nothing is pending.
func (s *Session) DequeueControlEvent() (ControlEvent, error) {
	if err := s.checkOpen("dequeue event", CodeDevice); err != nil {
		return ControlEvent{}, err
	}
	var ev v4l2Event
	if err := s.gw.performNonblocking(s.fd, vidiocDqevent, unsafe.Pointer(&ev)); err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EAGAIN) {
			return ControlEvent{}, ErrNoEvent
		}
		return ControlEvent{}, newError("dequeue event", CodeDevice, err)
	}
	if ev.typ != eventCtrl {
		return ControlEvent{}, ErrNoEvent
	}

	ce := ControlEvent{
		ID:      ev.id,
		Changes: ev.ctrlChanges(),
		Flags:   ev.ctrlFlags(),
		Minimum: ev.ctrlMinimum(),
		Maximum: ev.ctrlMaximum(),
		Step:    ev.ctrlStep(),
		Default: ev.ctrlDefault(),
	}
	if ev.ctrlType() == CtrlTypeInteger64 {
		ce.Value = ev.ctrlValue64()
	} else {
		ce.Value = int64(int32(ev.ctrlValue64()))
	}

	if c, ok := s.Control(ce.ID); ok {
		if ce.Changes&EventCtrlChValue != 0 {
			if c.Type == CtrlTypeInteger64 {
				c.Value64 = ce.Value
			} else {
				c.Value = int32(ce.Value)
			}
		}
		if ce.Changes&EventCtrlChFlags != 0 {
			c.Flags = ce.Flags
		}
		if ce.Changes&EventCtrlChRange != 0 {
			c.Minimum, c.Maximum, c.Step, c.Default = ce.Minimum, ce.Maximum, ce.Step, ce.Default
		}
	}
	return ce, nil
}
