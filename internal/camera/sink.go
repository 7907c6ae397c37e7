package camera

import (
	"errors"
	"sync"
)

// VideoSink holds the stream a decoder reads frames from.
type VideoSink struct {
	mu     sync.RWMutex
	stream Stream
}

// NewVideoSink returns a detached sink.
func NewVideoSink() *VideoSink {
	return &VideoSink{}
}

// Attach binds the sink to stream, replacing any previous stream.
func (s *VideoSink) Attach(stream Stream) error {
	if stream == nil {
		return errors.New("attach sink: nil stream")
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	return nil
}

// Detach unbinds the sink. It is safe to call when detached.
func (s *VideoSink) Detach() {
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
}

// Stream returns the attached stream or nil.
func (s *VideoSink) Stream() Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}
