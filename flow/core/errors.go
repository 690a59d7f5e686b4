package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSuchElement is returned by First/Last style sinks on an empty stream.
	ErrNoSuchElement = errors.New("stream completed without any element")

	// ErrMaterializerClosed is returned when running a graph on a materializer
	// that has been shut down.
	ErrMaterializerClosed = errors.New("materializer is shut down")

	// ErrQueueClosed is reported to producers offering to a queue whose stream
	// already terminated.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrStreamDetached is used when a materialized handle outlives the stage
	// that backs it.
	ErrStreamDetached = errors.New("stream is detached")

	// ErrCancelled is the cause carried by an ordinary downstream cancellation
	// when a stage decides to turn it into a failure.
	ErrCancelled = errors.New("stream cancelled")
)

// ArgumentError reports an invalid argument: a non-positive demand request, an
// unconnected or doubly connected port, an invalid operator parameter.
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Arg == "" {
		return "illegal argument: " + e.Reason
	}
	return fmt.Sprintf("illegal argument %s: %s", e.Arg, e.Reason)
}

// ProtocolViolationError reports a breach of the push/pull or demand protocol.
// It is always fatal and is never handed to a supervision decider.
type ProtocolViolationError struct {
	Stage  string
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	if e.Stage == "" {
		return "protocol violation: " + e.Reason
	}
	return fmt.Sprintf("protocol violation in %s: %s", e.Stage, e.Reason)
}

// StreamLimitReachedError is raised by Limit and LimitWeighted when the
// stream carries more than the allowed count or cost.
type StreamLimitReachedError struct {
	Max int64
}

func (e *StreamLimitReachedError) Error() string {
	return fmt.Sprintf("limit of %d reached", e.Max)
}

// SubscriptionTimeoutError is raised when a publisher is not subscribed to
// within the configured timeout.
type SubscriptionTimeoutError struct {
	Timeout time.Duration
}

func (e *SubscriptionTimeoutError) Error() string {
	return fmt.Sprintf("publisher was not attached to upstream within %s", e.Timeout)
}

// AbruptTerminationError fails every open materialized value when the
// materializer running the graph is shut down.
type AbruptTerminationError struct{}

func (e *AbruptTerminationError) Error() string {
	return "processor actor terminated abruptly"
}

// AbruptStageTerminationError is used when a stage stops before completing a
// materialized value it promised.
type AbruptStageTerminationError struct {
	Stage string
}

func (e *AbruptStageTerminationError) Error() string {
	return fmt.Sprintf("stage %s terminated before completing its materialized value", e.Stage)
}

// BufferOverflowError is raised by buffers configured with the Fail overflow
// strategy.
type BufferOverflowError struct {
	Size int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("buffer overflow (max capacity was: %d)", e.Size)
}

// StreamTimeoutError is raised by the timeout operators.
type StreamTimeoutError struct {
	Kind    string
	Timeout time.Duration
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("%s timeout of %s expired", e.Kind, e.Timeout)
}

// RateExceededError is raised by Throttle in enforcing mode.
type RateExceededError struct {
	Elements int
	Per      time.Duration
}

func (e *RateExceededError) Error() string {
	return fmt.Sprintf("maximum throttle throughput of %d per %s exceeded", e.Elements, e.Per)
}

// violation aborts the current handler with a protocol violation. The
// interpreter recovers it and fails the stage.
func violation(stage, format string, args ...any) {
	panic(&ProtocolViolationError{Stage: stage, Reason: fmt.Sprintf(format, args...)})
}

// IsFatal reports whether err belongs to the classes that bypass supervision.
func IsFatal(err error) bool {
	var pv *ProtocolViolationError
	var lim *StreamLimitReachedError
	var sub *SubscriptionTimeoutError
	var abrupt *AbruptTerminationError
	return errors.As(err, &pv) || errors.As(err, &lim) || errors.As(err, &sub) || errors.As(err, &abrupt)
}
