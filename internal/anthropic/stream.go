package anthropic

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Stream yields upstream events in arrival order. Recv returns io.EOF once the
// upstream ends normally; any other error is terminal. A Stream is not restartable.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

type sseStream struct {
	body      io.ReadCloser
	dec       *sseDecoder
	closeOnce sync.Once
	closeErr  error
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, dec: newSSEDecoder(body)}
}

func (s *sseStream) Recv() (StreamEvent, error) {
	frame, err := s.dec.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return StreamEvent{}, io.EOF
		}
		return StreamEvent{}, fmt.Errorf("read upstream stream: %w", err)
	}

	ev, err := decodeStreamEvent(frame.Event, []byte(frame.Data))
	if err != nil {
		return StreamEvent{}, err
	}
	if ev.Type == EventError {
		return StreamEvent{}, ev.Error
	}
	return ev, nil
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
