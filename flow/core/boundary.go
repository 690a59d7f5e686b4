package core

import (
	"sync"
	"sync/atomic"
	"time"
)

const subscriptionTimeoutKey = "subscription-timeout"

// useSettingsTimeout makes a publisher stage take its subscription timeout
// from the materializer settings.
const useSettingsTimeout time.Duration = -1

// publisherStage is a sink that republishes its input to exactly one
// Subscriber under the demand protocol. It backs async boundaries, AsPublisher
// and FromSubscriber.
type publisherStage[T any] struct {
	shape    SinkShape[T]
	timeout  time.Duration
	preset   Subscriber[T]
	internal bool
}

func newPublisherStage[T any](timeout time.Duration, preset Subscriber[T]) *publisherStage[T] {
	return &publisherStage[T]{
		shape:   SinkShape[T]{In: NewInlet[T]("publisherSink.in")},
		timeout: timeout,
		preset:  preset,
	}
}

func (s *publisherStage[T]) Shape() Shape           { return s.shape }
func (s *publisherStage[T]) Attributes() Attributes { return Named("publisherSink") }

func (s *publisherStage[T]) CreateLogic(Attributes) (*Logic, any) {
	pl := s.build()
	if s.preset != nil {
		return pl.Logic, NotUsed{}
	}
	return pl.Logic, Publisher[T](pl)
}

type publisherLogic[T any] struct {
	*Logic
	in       Inlet[T]
	internal bool
	timeout  time.Duration
	preset   Subscriber[T]

	sub        Subscriber[T]
	demand     Demand
	terminated bool
	upDone     bool
	upErr      error

	attach  *AsyncCallback[Subscriber[T]]
	request *AsyncCallback[int64]
	cancel  *AsyncCallback[struct{}]

	mu     sync.Mutex
	reject error
}

func (s *publisherStage[T]) build() *publisherLogic[T] {
	pl := &publisherLogic[T]{
		Logic:    NewLogic(s.shape),
		in:       s.shape.In,
		internal: s.internal,
		timeout:  s.timeout,
		preset:   s.preset,
	}
	pl.attach = NewAsyncCallback(pl.Logic, pl.onAttach)
	pl.request = NewAsyncCallback(pl.Logic, pl.onRequest)
	pl.cancel = NewAsyncCallback(pl.Logic, func(struct{}) {
		pl.terminated = true
		pl.CancelStage(nil)
	})
	pl.SetInHandler(pl.in, InHandler{
		OnPush: pl.onPush,
		OnUpstreamFinish: func() {
			pl.upDone = true
			if pl.sub == nil {
				pl.SetKeepGoing(true)
				return
			}
			pl.terminated = true
			pl.sub.OnComplete()
		},
		OnUpstreamFailure: func(err error) {
			pl.upDone = true
			pl.upErr = err
			if pl.sub == nil {
				pl.SetKeepGoing(true)
				return
			}
			pl.terminated = true
			pl.sub.OnError(err)
		},
	})
	pl.PreStart = func() {
		if pl.preset != nil {
			pl.onAttach(pl.preset)
			return
		}
		if pl.timeout == useSettingsTimeout {
			pl.timeout = pl.Materializer().Settings().SubscriptionTimeout
		}
		if pl.timeout > 0 {
			pl.ScheduleOnce(subscriptionTimeoutKey, pl.timeout)
		}
	}
	pl.OnTimer = func(any) {
		if pl.sub != nil {
			return
		}
		err := &SubscriptionTimeoutError{Timeout: pl.timeout}
		pl.setReject(err)
		pl.FailStage(err)
	}
	pl.PostStop = func() {
		if pl.sub != nil && !pl.terminated {
			pl.terminated = true
			pl.sub.OnError(pl.AbortCause())
		}
		if pl.sub != nil {
			pl.setReject(&ProtocolViolationError{Stage: pl.Name(), Reason: "publisher only supports one subscriber"})
		} else {
			pl.setReject(pl.AbortCause())
		}
	}
	return pl
}

func (pl *publisherLogic[T]) setReject(err error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.reject == nil {
		pl.reject = err
	}
}

func (pl *publisherLogic[T]) rejection() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.reject == nil {
		return ErrStreamDetached
	}
	return pl.reject
}

// Subscribe attaches s. Only the first subscriber is accepted; later ones
// receive an error right after their subscription.
func (pl *publisherLogic[T]) Subscribe(s Subscriber[T]) {
	if s == nil {
		panic(&ArgumentError{Arg: "subscriber", Reason: "must not be nil (rule 1.9)"})
	}
	pl.attach.InvokeOr(s, func() { rejectSubscriber(s, pl.rejection()) })
}

func rejectSubscriber[T any](s Subscriber[T], err error) {
	s.OnSubscribe(cancelledSubscription{})
	s.OnError(err)
}

type cancelledSubscription struct{}

func (cancelledSubscription) Request(int64) {}
func (cancelledSubscription) Cancel()       {}

func (pl *publisherLogic[T]) onAttach(s Subscriber[T]) {
	if pl.sub != nil {
		rejectSubscriber(s, &ProtocolViolationError{Stage: pl.Name(), Reason: "publisher only supports one subscriber"})
		return
	}
	pl.sub = s
	pl.CancelTimer(subscriptionTimeoutKey)
	s.OnSubscribe(&boundarySubscription[T]{pl: pl})
	if !pl.upDone {
		return
	}
	pl.terminated = true
	if pl.upErr != nil {
		s.OnError(pl.upErr)
	} else {
		s.OnComplete()
	}
	pl.CompleteStage()
}

func (pl *publisherLogic[T]) onRequest(n int64) {
	if pl.terminated {
		return
	}
	if err := pl.demand.Add(n); err != nil {
		pl.terminated = true
		pl.CancelWithCause(pl.in, err)
		pl.sub.OnError(err)
		pl.CompleteStage()
		return
	}
	if !pl.IsClosed(pl.in) && !pl.HasBeenPulled(pl.in) {
		pl.Pull(pl.in)
	}
}

func (pl *publisherLogic[T]) onPush() {
	v := Grab(pl.Logic, pl.in)
	if err := pl.demand.Consume(); err != nil {
		violation(pl.Name(), "%v", err)
	}
	if pl.internal {
		pl.Materializer().recordBoundaryElement()
	}
	pl.sub.OnNext(v)
	if pl.demand.HasDemand() && !pl.terminated {
		pl.Pull(pl.in)
	}
}

type boundarySubscription[T any] struct {
	pl        *publisherLogic[T]
	cancelled atomic.Bool
}

func (s *boundarySubscription[T]) Request(n int64) {
	if s.cancelled.Load() {
		return
	}
	s.pl.request.Invoke(n)
}

func (s *boundarySubscription[T]) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.pl.cancel.Invoke(struct{}{})
	}
}

// subscriberStage is a source fed by a Publisher under the demand protocol.
// It requests up to its buffer size and replenishes in batches of half of it.
type subscriberStage[T any] struct {
	shape SourceShape[T]
	pub   Publisher[T]
	size  int
}

func newSubscriberStage[T any](pub Publisher[T], size int) *subscriberStage[T] {
	return &subscriberStage[T]{
		shape: SourceShape[T]{Out: NewOutlet[T]("publisherSource.out")},
		pub:   pub,
		size:  size,
	}
}

func (s *subscriberStage[T]) Shape() Shape           { return s.shape }
func (s *subscriberStage[T]) Attributes() Attributes { return Named("publisherSource") }

func (s *subscriberStage[T]) CreateLogic(attrs Attributes) (*Logic, any) {
	size := s.size
	if size <= 0 {
		size = GetAttributeOr(attrs, InputBuffer{Initial: 4, Max: 16}).Max
	}
	return s.build(size).Logic, NotUsed{}
}

type subscriberLogic[T any] struct {
	*Logic
	out         Outlet[T]
	pub         Publisher[T]
	size        int
	sub         Subscription
	buf         []T
	outstanding int
	consumed    int
	upDone      bool
	cancelled   bool
}

func (s *subscriberStage[T]) build(size int) *subscriberLogic[T] {
	sl := &subscriberLogic[T]{
		Logic: NewLogic(s.shape),
		out:   s.shape.Out,
		pub:   s.pub,
		size:  max(size, 1),
	}
	adapter := &subscriberAdapter[T]{
		subscribe: NewAsyncCallback(sl.Logic, sl.onSubscribe),
		next:      NewAsyncCallback(sl.Logic, sl.onNext),
		fail:      NewAsyncCallback(sl.Logic, func(err error) { sl.FailStage(err) }),
		complete: NewAsyncCallback(sl.Logic, func(struct{}) {
			sl.upDone = true
			if len(sl.buf) == 0 {
				sl.CompleteStage()
			}
		}),
	}
	sl.SetOutHandler(sl.out, OutHandler{
		OnPull: func() {
			if len(sl.buf) == 0 {
				return
			}
			v := sl.buf[0]
			var zero T
			sl.buf[0] = zero
			sl.buf = sl.buf[1:]
			Push(sl.Logic, sl.out, v)
			sl.replenish()
			if len(sl.buf) == 0 && sl.upDone {
				sl.CompleteStage()
			}
		},
		OnDownstreamFinish: func(cause error) {
			sl.cancelUpstream()
			sl.CancelStage(cause)
		},
	})
	sl.PreStart = func() {
		sl.pub.Subscribe(adapter)
	}
	sl.PostStop = func() {
		if !sl.upDone {
			sl.cancelUpstream()
		}
	}
	return sl
}

// cancelUpstream cancels the subscription at most once; before onSubscribe
// the cancellation is delivered on arrival.
func (sl *subscriberLogic[T]) cancelUpstream() {
	if sl.cancelled {
		return
	}
	sl.cancelled = true
	if sl.sub != nil {
		sl.sub.Cancel()
	}
}

func (sl *subscriberLogic[T]) onSubscribe(s Subscription) {
	if sl.sub != nil {
		s.Cancel()
		return
	}
	sl.sub = s
	if sl.cancelled {
		s.Cancel()
		return
	}
	sl.outstanding = sl.size
	s.Request(int64(sl.size))
}

func (sl *subscriberLogic[T]) onNext(v T) {
	if sl.upDone {
		return
	}
	sl.outstanding--
	if sl.outstanding < 0 {
		sl.cancelUpstream()
		sl.FailStage(&ProtocolViolationError{Stage: sl.Name(), Reason: "publisher emitted more elements than requested"})
		return
	}
	if len(sl.buf) == 0 && sl.IsAvailable(sl.out) {
		Push(sl.Logic, sl.out, v)
		sl.replenish()
		return
	}
	sl.buf = append(sl.buf, v)
}

func (sl *subscriberLogic[T]) replenish() {
	sl.consumed++
	if batch := max(sl.size/2, 1); sl.consumed >= batch && !sl.upDone {
		sl.outstanding += sl.consumed
		sl.sub.Request(int64(sl.consumed))
		sl.consumed = 0
	}
}

// subscriberAdapter forwards demand protocol signals into a stage. Signals
// arriving after the stage stopped cancel the subscription.
type subscriberAdapter[T any] struct {
	subscribe *AsyncCallback[Subscription]
	next      *AsyncCallback[T]
	fail      *AsyncCallback[error]
	complete  *AsyncCallback[struct{}]
}

func (a *subscriberAdapter[T]) OnSubscribe(s Subscription) {
	a.subscribe.InvokeOr(s, s.Cancel)
}
func (a *subscriberAdapter[T]) OnNext(v T)        { a.next.Invoke(v) }
func (a *subscriberAdapter[T]) OnError(err error) { a.fail.Invoke(err) }
func (a *subscriberAdapter[T]) OnComplete()       { a.complete.Invoke(struct{}{}) }

// PublisherSink materializes a Publisher that exposes the stream to a single
// external subscriber. A publisher nobody subscribes to within the
// materializer's subscription timeout cancels its upstream.
func PublisherSink[T any]() Graph[SinkShape[T], Publisher[T]] {
	return FromStage[SinkShape[T], Publisher[T]](newPublisherStage[T](useSettingsTimeout, nil))
}

// SubscriberSink drives an external Subscriber from the stream.
func SubscriberSink[T any](s Subscriber[T]) Graph[SinkShape[T], NotUsed] {
	return FromStage[SinkShape[T], NotUsed](newPublisherStage[T](0, s))
}

// PublisherSource consumes an external Publisher, requesting elements in
// batches sized by the InputBuffer attribute.
func PublisherSource[T any](pub Publisher[T]) Graph[SourceShape[T], NotUsed] {
	return FromStage[SourceShape[T], NotUsed](newSubscriberStage(pub, 0))
}
