// Package probe provides manually driven demand-protocol endpoints for tests:
// a Subscriber that records what it receives and requests only when told to,
// and a Publisher that emits only when told to and records demand.
package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// DefaultTimeout bounds every Expect call.
const DefaultTimeout = 3 * time.Second

const eventBuffer = 1024

type kind int

const (
	onSubscribe kind = iota
	onNext
	onError
	onComplete
)

func (k kind) String() string {
	return [...]string{"OnSubscribe", "OnNext", "OnError", "OnComplete"}[k]
}

type event[T any] struct {
	kind kind
	sub  core.Subscription
	v    T
	err  error
}

// Subscriber is a core.Subscriber recording every signal. It never requests
// on its own.
type Subscriber[T any] struct {
	t       testing.TB
	timeout time.Duration
	events  chan event[T]
	sub     core.Subscription
}

// NewSubscriber returns a Subscriber failing t when an expectation is not met
// within DefaultTimeout.
func NewSubscriber[T any](t testing.TB) *Subscriber[T] {
	return &Subscriber[T]{t: t, timeout: DefaultTimeout, events: make(chan event[T], eventBuffer)}
}

func (s *Subscriber[T]) OnSubscribe(sub core.Subscription) {
	s.events <- event[T]{kind: onSubscribe, sub: sub}
}

func (s *Subscriber[T]) OnNext(v T) { s.events <- event[T]{kind: onNext, v: v} }

func (s *Subscriber[T]) OnError(err error) { s.events <- event[T]{kind: onError, err: err} }

func (s *Subscriber[T]) OnComplete() { s.events <- event[T]{kind: onComplete} }

func (s *Subscriber[T]) next(want kind) event[T] {
	s.t.Helper()
	select {
	case e := <-s.events:
		require.Equalf(s.t, want, e.kind, "expected %s, got %s (value %v, error %v)", want, e.kind, e.v, e.err)
		return e
	case <-time.After(s.timeout):
		require.FailNowf(s.t, "timeout", "no %s within %s", want, s.timeout)
		return event[T]{}
	}
}

// ExpectSubscription waits for OnSubscribe and returns the subscription.
func (s *Subscriber[T]) ExpectSubscription() core.Subscription {
	s.t.Helper()
	s.sub = s.next(onSubscribe).sub
	return s.sub
}

// Request requests n elements on the subscription received by
// ExpectSubscription.
func (s *Subscriber[T]) Request(n int64) {
	s.t.Helper()
	require.NotNil(s.t, s.sub, "Request before ExpectSubscription")
	s.sub.Request(n)
}

// Cancel cancels the subscription received by ExpectSubscription.
func (s *Subscriber[T]) Cancel() {
	s.t.Helper()
	require.NotNil(s.t, s.sub, "Cancel before ExpectSubscription")
	s.sub.Cancel()
}

// ExpectNext waits for the next element.
func (s *Subscriber[T]) ExpectNext() T {
	s.t.Helper()
	return s.next(onNext).v
}

// ExpectNextN waits for the next n elements.
func (s *Subscriber[T]) ExpectNextN(n int) []T {
	s.t.Helper()
	out := make([]T, 0, n)
	for range n {
		out = append(out, s.ExpectNext())
	}
	return out
}

// RequestNext requests one element and waits for it.
func (s *Subscriber[T]) RequestNext() T {
	s.t.Helper()
	s.Request(1)
	return s.ExpectNext()
}

// ExpectComplete waits for OnComplete.
func (s *Subscriber[T]) ExpectComplete() {
	s.t.Helper()
	s.next(onComplete)
}

// ExpectError waits for OnError and returns the error.
func (s *Subscriber[T]) ExpectError() error {
	s.t.Helper()
	return s.next(onError).err
}

// ExpectNoMessage fails if any signal arrives within d.
func (s *Subscriber[T]) ExpectNoMessage(d time.Duration) {
	s.t.Helper()
	select {
	case e := <-s.events:
		require.FailNowf(s.t, "unexpected signal", "got %s (value %v, error %v)", e.kind, e.v, e.err)
	case <-time.After(d):
	}
}

type subscriptionEvent struct {
	n      int64
	cancel bool
}

// Publisher is a core.Publisher emitting only what the test sends. It
// accepts one subscriber and does not enforce demand, so tests can violate
// the protocol on purpose.
type Publisher[T any] struct {
	t       testing.TB
	timeout time.Duration
	subs    chan core.Subscriber[T]
	signals chan subscriptionEvent
	sub     core.Subscriber[T]
	pending int64
}

// NewPublisher returns a Publisher failing t when an expectation is not met
// within DefaultTimeout.
func NewPublisher[T any](t testing.TB) *Publisher[T] {
	return &Publisher[T]{
		t:       t,
		timeout: DefaultTimeout,
		subs:    make(chan core.Subscriber[T], 1),
		signals: make(chan subscriptionEvent, eventBuffer),
	}
}

func (p *Publisher[T]) Subscribe(s core.Subscriber[T]) {
	select {
	case p.subs <- s:
		s.OnSubscribe(&subscription{signals: p.signals})
	default:
		s.OnSubscribe(&subscription{signals: make(chan subscriptionEvent, eventBuffer)})
		s.OnError(&core.ProtocolViolationError{Stage: "probe", Reason: "probe publisher supports one subscriber"})
	}
}

// ExpectSubscription waits for a subscriber to attach.
func (p *Publisher[T]) ExpectSubscription() {
	p.t.Helper()
	select {
	case p.sub = <-p.subs:
	case <-time.After(p.timeout):
		require.FailNowf(p.t, "timeout", "no subscriber within %s", p.timeout)
	}
}

func (p *Publisher[T]) signal() subscriptionEvent {
	p.t.Helper()
	select {
	case e := <-p.signals:
		return e
	case <-time.After(p.timeout):
		require.FailNowf(p.t, "timeout", "no subscription signal within %s", p.timeout)
		return subscriptionEvent{}
	}
}

// ExpectRequest waits for a Request and returns its n.
func (p *Publisher[T]) ExpectRequest() int64 {
	p.t.Helper()
	e := p.signal()
	require.False(p.t, e.cancel, "expected Request, got Cancel")
	p.pending += e.n
	return e.n
}

// ExpectCancellation waits for Cancel, skipping requests made before it.
func (p *Publisher[T]) ExpectCancellation() {
	p.t.Helper()
	for {
		if e := p.signal(); e.cancel {
			return
		}
	}
}

// ExpectNoSignal fails if a Request or Cancel arrives within d.
func (p *Publisher[T]) ExpectNoSignal(d time.Duration) {
	p.t.Helper()
	select {
	case e := <-p.signals:
		require.FailNowf(p.t, "unexpected signal", "got request %d, cancel %v", e.n, e.cancel)
	case <-time.After(d):
	}
}

// Pending returns the demand seen by ExpectRequest minus the elements sent.
func (p *Publisher[T]) Pending() int64 { return p.pending }

// SendNext emits vs to the subscriber in order.
func (p *Publisher[T]) SendNext(vs ...T) {
	p.t.Helper()
	require.NotNil(p.t, p.sub, "SendNext before ExpectSubscription")
	for _, v := range vs {
		p.pending--
		p.sub.OnNext(v)
	}
}

// SendComplete completes the subscriber.
func (p *Publisher[T]) SendComplete() {
	p.t.Helper()
	require.NotNil(p.t, p.sub, "SendComplete before ExpectSubscription")
	p.sub.OnComplete()
}

// SendError fails the subscriber with err.
func (p *Publisher[T]) SendError(err error) {
	p.t.Helper()
	require.NotNil(p.t, p.sub, "SendError before ExpectSubscription")
	p.sub.OnError(err)
}

type subscription struct {
	signals chan subscriptionEvent
}

func (s *subscription) Request(n int64) { s.signals <- subscriptionEvent{n: n} }

func (s *subscription) Cancel() { s.signals <- subscriptionEvent{cancel: true} }
