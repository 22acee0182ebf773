package engine

import (
	"fmt"
	"io"
	"sync"
)

// NotificationSink receives attempt overlay notifications. OnAttempt runs on
// the engine's processing goroutine and must return quickly.
type NotificationSink interface {
	OnAttempt(payload AttemptPayload)
}

// NotificationFunc adapts a function to NotificationSink.
type NotificationFunc func(AttemptPayload)

// OnAttempt calls f.
func (f NotificationFunc) OnAttempt(p AttemptPayload) { f(p) }

// WriterSink prints one line per attempt, e.g.
// "com.example.video: 2nd attempt, 24m remaining".
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// OnAttempt writes the overlay message.
func (s *WriterSink) OnAttempt(p AttemptPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, p.Message())
}

type nopSink struct{}

func (nopSink) OnAttempt(AttemptPayload) {}
