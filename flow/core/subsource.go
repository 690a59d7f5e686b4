package core

// SubSourceOutlet lets a stage feed a dynamically materialized source with
// push semantics. Demand from the sub-stream arrives through the handler's
// OnPull, one signal per element; Push is allowed only while IsAvailable.
type SubSourceOutlet[T any] struct {
	l       *Logic
	name    string
	handler OutHandler

	subscribe *AsyncCallback[Subscriber[T]]
	request   *AsyncCallback[int64]
	cancel    *AsyncCallback[struct{}]
	repull    *AsyncCallback[struct{}]

	sub    Subscriber[T]
	demand Demand
	pulled bool
	closed bool
	// terminal signal recorded before the sub-stream subscribed
	done    bool
	doneErr error
}

// NewSubSourceOutlet creates a sub-outlet owned by l. The sub-stream is
// completed when l stops.
func NewSubSourceOutlet[T any](l *Logic, name string) *SubSourceOutlet[T] {
	s := &SubSourceOutlet[T]{l: l, name: name}
	s.subscribe = NewAsyncCallback(l, s.onSubscribe)
	s.request = NewAsyncCallback(l, s.onRequest)
	s.cancel = NewAsyncCallback(l, func(struct{}) { s.onCancel() })
	s.repull = NewAsyncCallback(l, func(struct{}) { s.signalPull() })
	l.trackSubPort(s)
	return s
}

// SetHandler installs the handler for demand and cancellation from the
// sub-stream.
func (s *SubSourceOutlet[T]) SetHandler(h OutHandler) { s.handler = h }

// Source returns the source to materialize the sub-stream from. It may be
// materialized once.
func (s *SubSourceOutlet[T]) Source() Graph[SourceShape[T], NotUsed] {
	return PublisherSource[T](s).Named(s.name)
}

// Subscribe implements Publisher. It is called from the sub-stream's island.
func (s *SubSourceOutlet[T]) Subscribe(sub Subscriber[T]) {
	s.subscribe.InvokeOr(sub, func() { rejectSubscriber(sub, ErrStreamDetached) })
}

// IsAvailable reports whether an element can be pushed.
func (s *SubSourceOutlet[T]) IsAvailable() bool { return s.pulled && !s.closed }

// IsClosed reports whether the sub-stream was completed, failed or cancelled.
func (s *SubSourceOutlet[T]) IsClosed() bool { return s.closed }

// Push delivers v to the sub-stream.
func (s *SubSourceOutlet[T]) Push(v T) {
	if !s.IsAvailable() {
		violation(s.l.name, "cannot push sub-outlet %s without demand", s.name)
	}
	if err := s.demand.Consume(); err != nil {
		violation(s.l.name, "sub-outlet %s: %v", s.name, err)
	}
	s.pulled = false
	s.sub.OnNext(v)
	if s.demand.HasDemand() {
		s.repull.Invoke(struct{}{})
	}
}

// Complete completes the sub-stream.
func (s *SubSourceOutlet[T]) Complete() { s.terminate(nil) }

// Fail fails the sub-stream with err.
func (s *SubSourceOutlet[T]) Fail(err error) { s.terminate(err) }

func (s *SubSourceOutlet[T]) terminate(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.pulled = false
	if s.sub == nil {
		s.done, s.doneErr = true, err
		return
	}
	if err != nil {
		s.sub.OnError(err)
		return
	}
	s.sub.OnComplete()
}

func (s *SubSourceOutlet[T]) cancelFromParent() { s.Complete() }
func (s *SubSourceOutlet[T]) isClosed() bool    { return s.closed }

func (s *SubSourceOutlet[T]) onSubscribe(sub Subscriber[T]) {
	if s.sub != nil {
		rejectSubscriber(sub, &ProtocolViolationError{Stage: s.l.name, Reason: "sub-outlet " + s.name + " accepts a single subscriber"})
		return
	}
	s.sub = sub
	sub.OnSubscribe(subOutletSubscription[T]{s})
	if s.done {
		if s.doneErr != nil {
			sub.OnError(s.doneErr)
		} else {
			sub.OnComplete()
		}
	}
}

func (s *SubSourceOutlet[T]) onRequest(n int64) {
	if s.closed {
		return
	}
	if err := s.demand.Add(n); err != nil {
		s.terminate(err)
		return
	}
	s.signalPull()
}

func (s *SubSourceOutlet[T]) signalPull() {
	if s.closed || s.pulled || !s.demand.HasDemand() {
		return
	}
	s.pulled = true
	if s.handler.OnPull != nil {
		s.handler.OnPull()
	}
}

func (s *SubSourceOutlet[T]) onCancel() {
	if s.closed {
		return
	}
	s.closed = true
	s.pulled = false
	if s.handler.OnDownstreamFinish != nil {
		s.handler.OnDownstreamFinish(nil)
		return
	}
	s.l.CancelStage(nil)
}

// subOutletSubscription carries requests from the sub-stream's island back
// into the owning stage.
type subOutletSubscription[T any] struct {
	s *SubSourceOutlet[T]
}

func (x subOutletSubscription[T]) Request(n int64) { x.s.request.Invoke(n) }
func (x subOutletSubscription[T]) Cancel()         { x.s.cancel.Invoke(struct{}{}) }
