package flowerrors

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// ErrorSink is a core.EventSink that hands every published event carrying a
// cause to a handler, then forwards the event to the next sink. Install it
// with core.WithEventSink to observe the failures reported by logging stages.
type ErrorSink struct {
	next      core.EventSink
	handler   func(tag string, err error)
	predicate func(error) bool
	count     atomic.Int64
}

// NewErrorSink creates an ErrorSink. next and handler may be nil.
func NewErrorSink(next core.EventSink, handler func(tag string, err error)) *ErrorSink {
	return &ErrorSink{next: next, handler: handler, predicate: func(error) bool { return true }}
}

// Matching restricts the handler and the count to causes matching predicate.
func (s *ErrorSink) Matching(predicate func(error) bool) *ErrorSink {
	s.predicate = predicate
	return s
}

// Publish implements core.EventSink.
func (s *ErrorSink) Publish(level zapcore.Level, tag, message string, cause error) {
	if cause != nil && s.predicate(cause) {
		s.count.Add(1)
		if s.handler != nil {
			s.handler(tag, cause)
		}
	}
	if s.next != nil {
		s.next.Publish(level, tag, message, cause)
	}
}

// Count returns the number of causes seen.
func (s *ErrorSink) Count() int64 {
	return s.count.Load()
}
