//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocateBuffers prepares the capture memory for the committed format.
// On failure every mapping is undone and the driver pool is released.
func (s *Session) allocateBuffers() error {
	if s.method == MethodRead {
		s.scratch = make([]byte, int(s.committed.Width)*int(s.committed.Height)*3)
		return nil
	}

	if err := s.requestBuffers(); err != nil {
		return err
	}
	if err := s.queryAndMap(); err != nil {
		s.releaseBuffers()
		return err
	}
	if err := s.queueAll(); err != nil {
		s.releaseBuffers()
		return err
	}
	s.observer.BuffersMapped(s.path, len(s.buffers))
	return nil
}

// requestBuffers asks the driver for the pool and sizes the slot table.
func (s *Session) requestBuffers() error {
	req := v4l2Requestbuffers{
		count:  uint32(s.bufferCount),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := s.gw.perform(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		s.logger.Error("buffer request failed", "count", s.bufferCount, "error", err)
		return newError("request buffers", CodeReqBufs, err)
	}
	if req.count == 0 {
		return newError("request buffers", CodeReqBufs, unix.ENOMEM)
	}
	if int(req.count) != s.bufferCount {
		s.logger.Warn("driver granted a different buffer count", "requested", s.bufferCount, "granted", req.count)
	}
	s.buffers = make([]Buffer, req.count)
	return nil
}

// queryAndMap learns each slot's offset and length, then maps them all.
func (s *Session) queryAndMap() error {
	for i := range s.buffers {
		b := v4l2Buffer{
			index:  uint32(i),
			typ:    bufTypeVideoCapture,
			memory: memoryMmap,
		}
		if err := s.gw.perform(s.fd, vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
			s.logger.Error("buffer query failed, try the read capture method", "index", i, "error", err)
			return newError("query buffer", CodeQueryBuf, err)
		}
		s.buffers[i] = Buffer{
			Index:  uint32(i),
			Length: b.length,
			Offset: b.offset,
			State:  BufferFilled,
		}
	}
	return s.mapBuffers()
}

// mapBuffers maps every queried slot. A failure leaves earlier slots mapped;
// the caller unmaps during rollback.
func (s *Session) mapBuffers() error {
	for i := range s.buffers {
		buf := &s.buffers[i]
		data, err := s.backend.Mmap(s.fd, int64(buf.Offset), int(buf.Length))
		if err != nil {
			s.logger.Error("buffer mapping failed", "index", i, "length", buf.Length, "error", err)
			return newError("map buffer", CodeMmap, err)
		}
		buf.Data = data
	}
	return nil
}

// unmapBuffers releases every live mapping and tolerates slots never mapped.
func (s *Session) unmapBuffers() {
	for i := range s.buffers {
		buf := &s.buffers[i]
		if buf.Length == 0 || buf.Data == nil {
			continue
		}
		if err := s.backend.Munmap(buf.Data); err != nil {
			s.logger.Warn("buffer unmap failed", "index", i, "error", err)
		}
		buf.Data = nil
	}
}

// queueAll hands the whole pool to the driver.
func (s *Session) queueAll() error {
	for i := range s.buffers {
		if err := s.queueBuffer(uint32(i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) queueBuffer(index uint32) error {
	b := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := s.gw.perform(s.fd, vidiocQbuf, unsafe.Pointer(&b)); err != nil {
		s.logger.Error("buffer queue failed", "index", index, "error", err)
		return newError("queue buffer", CodeQBuf, err)
	}
	s.buffers[index].State = BufferFree
	return nil
}

// releaseBuffers unmaps the pool and returns the driver's buffers.
func (s *Session) releaseBuffers() {
	s.scratch = nil
	if len(s.buffers) == 0 {
		return
	}
	s.unmapBuffers()
	s.buffers = nil
	if s.fd < 0 {
		return
	}
	req := v4l2Requestbuffers{
		count:  0,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := s.gw.perform(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		s.logger.Warn("releasing driver buffers failed", "error", err)
	}
	s.observer.BuffersMapped(s.path, 0)
}

// Buffers returns a snapshot of the pool.
func (s *Session) Buffers() []Buffer {
	out := make([]Buffer, len(s.buffers))
	copy(out, s.buffers)
	return out
}

// WaitFrame blocks until a frame or event is pending, or timeout elapses.
func (s *Session) WaitFrame(timeout time.Duration) error {
	if err := s.checkOpen("wait frame", CodeSelect); err != nil {
		return err
	}
	ready, err := s.backend.Poll(s.fd, timeout)
	if err != nil {
		return newError("wait frame", CodeSelect, err)
	}
	if !ready {
		return newError("wait frame", CodeSelectTimeout, nil)
	}
	return nil
}

// Dequeue takes the next filled buffer from the driver. The frame data stays
// valid until Requeue is called with its index. With read capture it reads
// into the scratch buffer instead.
func (s *Session) Dequeue() (Frame, error) {
	if err := s.checkOpen("dequeue buffer", CodeDQBuf); err != nil {
		return Frame{}, err
	}
	if s.method == MethodRead {
		return s.readFrame()
	}
	if len(s.buffers) == 0 {
		return Frame{}, newError("dequeue buffer", CodeDQBuf, errors.New("no buffers mapped"))
	}

	b := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := s.gw.performNonblocking(s.fd, vidiocDqbuf, unsafe.Pointer(&b)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Frame{}, ErrNoFrame
		}
		return Frame{}, newError("dequeue buffer", CodeDQBuf, err)
	}
	if int(b.index) >= len(s.buffers) {
		return Frame{}, newError("dequeue buffer", CodeDQBuf, fmt.Errorf("driver returned index %d", b.index))
	}

	buf := &s.buffers[b.index]
	buf.State = BufferFilled
	used := min(int(b.bytesused), len(buf.Data))
	s.observer.FrameDequeued(s.path, used)
	return Frame{
		Index:     b.index,
		Sequence:  b.sequence,
		Timestamp: time.Unix(b.timestamp.Unix()),
		Data:      buf.Data[:used],
	}, nil
}

// Requeue returns a dequeued buffer to the driver.
func (s *Session) Requeue(index uint32) error {
	if err := s.checkOpen("queue buffer", CodeQBuf); err != nil {
		return err
	}
	if s.method == MethodRead {
		return nil
	}
	if int(index) >= len(s.buffers) {
		return newError("queue buffer", CodeQBuf, unix.EINVAL)
	}
	if s.buffers[index].State != BufferFilled {
		return newError("queue buffer", CodeQBuf, fmt.Errorf("buffer %d already queued", index))
	}
	return s.queueBuffer(index)
}

func (s *Session) readFrame() (Frame, error) {
	if len(s.scratch) == 0 {
		return Frame{}, newError("read frame", CodeRead, errors.New("no format committed"))
	}
	var (
		n   int
		err error
	)
	for attempt := 0; attempt < s.gw.attempts; attempt++ {
		n, err = s.backend.Read(s.fd, s.scratch)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Frame{}, ErrNoFrame
		}
		return Frame{}, newError("read frame", CodeRead, err)
	}
	s.sequence++
	s.observer.FrameDequeued(s.path, n)
	return Frame{
		Sequence:  s.sequence,
		Timestamp: time.Now(),
		Data:      s.scratch[:n],
	}, nil
}
