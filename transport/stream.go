package transport

import (
	"io"
	"sync"
	"time"
)

// StreamLink adapts a plain byte stream (pipe, socket, ser2net bridge) to Link.
// A background reader feeds received bytes to Read so reads honour the timeout.
type StreamLink struct {
	ownership

	rw      io.ReadWriteCloser
	timeout time.Duration

	recv    chan []byte
	pending []byte
	readErr error
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStreamLink starts reading from rw immediately.
func NewStreamLink(rw io.ReadWriteCloser, timeout time.Duration) *StreamLink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &StreamLink{
		rw:      rw,
		timeout: timeout,
		recv:    make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *StreamLink) pump() {
	defer close(s.recv)
	for {
		buf := make([]byte, 256)
		n, err := s.rw.Read(buf)
		if n > 0 {
			select {
			case s.recv <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

func (s *StreamLink) Read(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	timeout := time.After(s.timeout)
	for len(out) < n {
		if len(s.pending) > 0 {
			k := copy(out[len(out):n], s.pending)
			out = out[:len(out)+k]
			s.pending = s.pending[k:]
			continue
		}
		select {
		case chunk, ok := <-s.recv:
			if !ok {
				if s.readErr != nil && s.readErr != io.EOF {
					return out, &Error{Op: "read", Err: s.readErr}
				}
				return out, nil
			}
			s.pending = chunk
		case <-timeout:
			return out, nil
		}
	}
	return out, nil
}

func (s *StreamLink) Write(p []byte) error {
	select {
	case <-s.done:
		return &Error{Op: "write", Err: ErrClosed}
	default:
	}
	if _, err := s.rw.Write(p); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

func (s *StreamLink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.rw.Close(); err != nil {
			s.closeErr = &Error{Op: "close", Err: err}
		}
	})
	return s.closeErr
}
