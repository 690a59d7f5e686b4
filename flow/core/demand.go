package core

import (
	"math"
	"sync/atomic"
)

// Subscription is the link between one Publisher and one Subscriber. The
// subscriber signals demand with Request and ends the relationship with Cancel.
// Cancel is idempotent.
type Subscription interface {
	Request(n int64)
	Cancel()
}

// Subscriber consumes signals from a Publisher. OnNext is never called more
// often than the total requested demand; OnComplete and OnError are terminal.
type Subscriber[T any] interface {
	OnSubscribe(Subscription)
	OnNext(T)
	OnError(error)
	OnComplete()
}

// Publisher produces elements for the subscribers attached to it.
type Publisher[T any] interface {
	Subscribe(Subscriber[T])
}

// Unbounded is the demand value treated as "no limit".
const Unbounded int64 = math.MaxInt64

// Demand tracks requested-but-undelivered elements for one subscriber. It is
// owned by a single goroutine and never goes negative.
type Demand struct {
	n int64
}

// Add increases demand by n. A non-positive n is rejected with an
// ArgumentError. Demand saturates at Unbounded.
func (d *Demand) Add(n int64) error {
	if n <= 0 {
		return &ArgumentError{Arg: "n", Reason: "number of requested elements must be positive (rule 3.9)"}
	}
	if d.n > Unbounded-n {
		d.n = Unbounded
		return nil
	}
	d.n += n
	return nil
}

// Consume accounts for one delivered element. Delivering without demand is a
// protocol violation.
func (d *Demand) Consume() error {
	if d.n <= 0 {
		return &ProtocolViolationError{Reason: "element delivered without outstanding demand"}
	}
	if d.n != Unbounded {
		d.n--
	}
	return nil
}

// Outstanding returns the current demand.
func (d *Demand) Outstanding() int64 {
	return d.n
}

// HasDemand reports whether at least one element may be delivered.
func (d *Demand) HasDemand() bool {
	return d.n > 0
}

// Cancellable is the materialized value of sources that can be stopped from
// the outside, such as Tick.
type Cancellable interface {
	Cancel() bool
	IsCancelled() bool
}

// cancelFlag is a Cancellable that runs onCancel at most once.
type cancelFlag struct {
	cancelled atomic.Bool
	onCancel  func()
}

// NewCancellable returns a Cancellable invoking onCancel on the first Cancel.
func NewCancellable(onCancel func()) Cancellable {
	return &cancelFlag{onCancel: onCancel}
}

func (c *cancelFlag) Cancel() bool {
	if !c.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if c.onCancel != nil {
		c.onCancel()
	}
	return true
}

func (c *cancelFlag) IsCancelled() bool {
	return c.cancelled.Load()
}
