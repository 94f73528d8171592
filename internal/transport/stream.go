package transport

import "sync"

// Stream is a Subscription fed by a link's notification callback
type Stream struct {
	ch      chan []byte
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	onClose func() error
	err     error
}

// NewStream creates a stream with the given buffer; onClose runs once when
// the stream is closed, by its owner or by the link.
func NewStream(buffer int, onClose func() error) *Stream {
	return &Stream{
		ch:      make(chan []byte, buffer),
		onClose: onClose,
	}
}

// Push delivers a copy of fragment. It reports false when the stream is
// closed or the buffer is full.
func (s *Stream) Push(fragment []byte) bool {
	data := make([]byte, len(fragment))
	copy(data, fragment)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- data:
		return true
	default:
		return false
	}
}

func (s *Stream) Fragments() <-chan []byte {
	return s.ch
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()

		if s.onClose != nil {
			s.err = s.onClose()
		}
	})
	return s.err
}

// Closed reports whether Close has run
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
