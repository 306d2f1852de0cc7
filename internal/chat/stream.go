package chat

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// StreamState is the lifecycle of a Stream.
type StreamState int32

const (
	StateLoading StreamState = iota
	StateLive
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Stream delivers the full, ordered message list of one conversation each
// time it changes. A consumer that falls behind only sees the latest list.
type Stream struct {
	out   chan []data.Message
	state atomic.Int32
	now   func() time.Time

	mu      sync.Mutex
	err     error
	stop    func()
	closing bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newStream(now func() time.Time) *Stream {
	return &Stream{
		out:    make(chan []data.Message, 1),
		now:    now,
		closed: make(chan struct{}),
	}
}

// Messages returns the snapshot channel. It is closed by Close.
func (s *Stream) Messages() <-chan []data.Message { return s.out }

// State reports the current lifecycle state.
func (s *Stream) State() StreamState { return StreamState(s.state.Load()) }

// Err returns the last subscription error, if any. A transient error is
// cleared by the next snapshot. When the store ends the subscription the
// stream closes and Err keeps the cause.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the stream has been closed.
func (s *Stream) Done() <-chan struct{} { return s.closed }

// Close stops the subscription. No snapshot is delivered after it returns.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.state.Store(int32(StateClosed))
		close(s.closed)
		close(s.out)
	})
}

// attach hands the stream its unsubscribe function. A stream that was
// already closed unsubscribes at once.
func (s *Stream) attach(stop func()) {
	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.stop = stop
	}
	s.mu.Unlock()
	if closing {
		stop()
	}
}

// deliver runs on the subscription goroutine, which is the only sender.
func (s *Stream) deliver(docs []docstore.Document) {
	now := s.now()
	msgs := make([]data.Message, 0, len(docs))
	for _, doc := range docs {
		msgs = append(msgs, data.DecodeMessage(doc, now))
	}

	select {
	case <-s.out:
	default:
	}
	s.out <- msgs

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.state.CompareAndSwap(int32(StateLoading), int32(StateLive))
}

// fail runs on the subscription goroutine. Close waits for that goroutine,
// so a terminal error closes the stream from a new one.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	if errors.Is(err, docstore.ErrSubscriptionEnded) {
		go s.Close()
	}
}
