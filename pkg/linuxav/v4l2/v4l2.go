//go:build linux

// Package v4l2 manages a capture session on a Video4Linux2 (V4L2) device,
// typically a USB video class camera.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Opening a Session
//
// Open validates the device's capabilities, enumerates its formats and
// controls, and returns a Session that owns the descriptor:
//
//	s, err := v4l2.Open("/dev/video0", v4l2.WithBufferCount(4))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// # Format Negotiation
//
// CommitFormat sets the format and maps and queues the buffer pool:
//
//	if err := s.CommitFormat(1280, 720, v4l2.PixFmtMJPEG); err != nil {
//	    return err
//	}
//
// # Capture
//
//	_ = s.Start()
//	for {
//	    if err := s.WaitFrame(time.Second); err != nil {
//	        continue
//	    }
//	    frame, err := s.Dequeue()
//	    if err != nil {
//	        continue
//	    }
//	    consume(frame.Data)
//	    _ = s.Requeue(frame.Index)
//	}
//
// # Controls
//
// Controls are enumerated on open and subscribed for change events:
//
//	for _, c := range s.Controls() {
//	    fmt.Printf("%s = %d\n", c.Name, c.Value)
//	}
//
// Every error returned by a session carries a Code; see CodeOf.
package v4l2
