package flowerrors

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// The deciders in this file watch the faults handed to supervision and
// leave the directive to the decider they wrap, Stop when that is nil.
// Install them with Graph.WithSupervision or core.WithDefaultDecider.

func observing(next core.Decider, see func(error)) core.Decider {
	return func(err error) core.Directive {
		see(err)
		if next == nil {
			return core.Stop
		}
		return next(err)
	}
}

func all(error) bool { return true }

// ErrorCounter is the tally kept by WithErrorCounter.
type ErrorCounter struct{ n atomic.Int64 }

func (c *ErrorCounter) Count() int64 { return c.n.Load() }

// WithErrorCounter counts the faults matching predicate, or every fault if
// predicate is nil.
func WithErrorCounter(next core.Decider, predicate func(error) bool) (core.Decider, *ErrorCounter) {
	if predicate == nil {
		predicate = all
	}
	c := new(ErrorCounter)
	return observing(next, func(err error) {
		if predicate(err) {
			c.n.Add(1)
		}
	}), c
}

// ErrorCollector keeps the faults seen by WithErrorCollector.
type ErrorCollector struct {
	mu    sync.Mutex
	errs  []error
	keep  func(error) bool
	limit int
}

type ErrorCollectorOption func(*ErrorCollector)

// WithPredicate collects only the faults matching predicate.
func WithPredicate(predicate func(error) bool) ErrorCollectorOption {
	return func(c *ErrorCollector) { c.keep = predicate }
}

// WithMaxErrors keeps the first n faults and drops the rest. Zero means no
// limit.
func WithMaxErrors(n int) ErrorCollectorOption {
	return func(c *ErrorCollector) { c.limit = n }
}

// Errors returns the collected faults in order.
func (c *ErrorCollector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errs)
}

func (c *ErrorCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func WithErrorCollector(next core.Decider, opts ...ErrorCollectorOption) (core.Decider, *ErrorCollector) {
	c := &ErrorCollector{keep: all}
	for _, opt := range opts {
		opt(c)
	}
	return observing(next, func(err error) {
		if !c.keep(err) {
			return
		}
		c.mu.Lock()
		if c.limit == 0 || len(c.errs) < c.limit {
			c.errs = append(c.errs, err)
		}
		c.mu.Unlock()
	}), c
}

// OnErrorDo calls handler for every fault.
func OnErrorDo(next core.Decider, handler func(error)) core.Decider {
	return observing(next, handler)
}

// CircuitBreakerMonitor is a decider state shared by every stage it
// supervises: faults resume until threshold of them were seen, after which
// the breaker is open and every fault stops its stage until Reset.
type CircuitBreakerMonitor struct {
	threshold int64
	faults    atomic.Int64
	open      atomic.Bool
	onTrip    func()
}

func (m *CircuitBreakerMonitor) IsOpen() bool { return m.open.Load() }

func (m *CircuitBreakerMonitor) FailureCount() int64 { return m.faults.Load() }

// Reset closes the breaker and clears the count.
func (m *CircuitBreakerMonitor) Reset() {
	m.faults.Store(0)
	m.open.Store(false)
}

func (m *CircuitBreakerMonitor) decide(error) core.Directive {
	if m.open.Load() {
		return core.Stop
	}
	if m.faults.Add(1) < m.threshold {
		return core.Resume
	}
	if m.open.CompareAndSwap(false, true) && m.onTrip != nil {
		m.onTrip()
	}
	return core.Stop
}

// WithCircuitBreakerMonitor returns a breaker decider and its state.
// onThresholdHit, if set, runs once each time the breaker opens.
func WithCircuitBreakerMonitor(threshold int, onThresholdHit func()) (core.Decider, *CircuitBreakerMonitor) {
	m := &CircuitBreakerMonitor{threshold: int64(max(threshold, 1)), onTrip: onThresholdHit}
	return m.decide, m
}
