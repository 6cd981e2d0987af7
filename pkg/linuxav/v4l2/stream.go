//go:build linux

package v4l2

// State returns the streaming state.
func (s *Session) State() StreamState {
	return s.state
}

func (s *Session) setState(state StreamState) {
	if s.state == state {
		return
	}
	s.logger.Debug("stream state changed", "from", s.state.String(), "to", state.String())
	s.state = state
	s.observer.StreamStateChanged(s.path, state)
}

// Start turns streaming on. It is a no-op when the stream is already active.
// Read capture needs no driver request.
func (s *Session) Start() error {
	if s.state == StreamActive {
		return nil
	}
	if err := s.checkOpen("stream on", CodeStreamOn); err != nil {
		return err
	}
	if s.method == MethodMmap {
		if err := s.requeueReturned(); err != nil {
			return err
		}
		if err := s.gw.perform(s.fd, vidiocStreamon, typePtr()); err != nil {
			s.logger.Error("stream on failed", "error", err)
			return newError("stream on", CodeStreamOn, err)
		}
	}
	s.setState(StreamActive)
	return nil
}

// RequestStop asks a capture loop to stop at its next iteration. The stream
// stays on until Stop is called.
func (s *Session) RequestStop() {
	if s.state == StreamActive {
		s.setState(StreamRequestedStop)
	}
}

// StopRequested reports whether RequestStop was called on the running stream.
func (s *Session) StopRequested() bool {
	return s.state == StreamRequestedStop
}

// Stop turns streaming off. Stopping a stream that is not running succeeds, so
// Stop may be called any number of times.
func (s *Session) Stop() error {
	if s.fd < 0 {
		s.state = StreamStopped
		return nil
	}
	if s.method == MethodMmap {
		if err := s.gw.perform(s.fd, vidiocStreamoff, typePtr()); err != nil {
			if s.state == StreamStopped {
				s.logger.Debug("stream off on a stopped stream", "error", err)
				return nil
			}
			s.logger.Error("stream off failed", "error", err)
			return newError("stream off", CodeStreamOff, err)
		}
		// The driver returns every buffer to user space on stream off.
		for i := range s.buffers {
			s.buffers[i].State = BufferFilled
		}
	}
	s.setState(StreamStopped)
	return nil
}

// requeueReturned queues the slots a previous stream off handed back.
func (s *Session) requeueReturned() error {
	for i := range s.buffers {
		if s.buffers[i].State != BufferFilled {
			continue
		}
		if err := s.queueBuffer(uint32(i)); err != nil {
			return err
		}
	}
	return nil
}
