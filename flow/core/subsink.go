package core

type subInlet interface {
	cancelFromParent()
	isClosed() bool
}

// SubSinkInlet lets a stage consume a dynamically materialized source as if
// it were one of its own inlets. Signals from the sub-stream are delivered
// through the stage's handlers, one at a time, like any other signal.
type SubSinkInlet[T any] struct {
	l       *Logic
	name    string
	handler InHandler
	adapter *subscriberAdapter[T]

	sub       Subscription
	elem      T
	has       bool
	pulled    bool
	closed    bool
	cancelled bool
}

// NewSubSinkInlet creates a sub-inlet owned by l. The inlet is cancelled when
// l stops.
func NewSubSinkInlet[T any](l *Logic, name string) *SubSinkInlet[T] {
	s := &SubSinkInlet[T]{l: l, name: name}
	s.adapter = &subscriberAdapter[T]{
		subscribe: NewAsyncCallback(l, s.onSubscribe),
		next:      NewAsyncCallback(l, s.onNext),
		fail:      NewAsyncCallback(l, s.onError),
		complete:  NewAsyncCallback(l, func(struct{}) { s.onComplete() }),
	}
	l.trackSubPort(s)
	return s
}

// trackSubPort registers a sub-port to be closed when l stops, dropping the
// ones already closed.
func (l *Logic) trackSubPort(p subInlet) {
	live := l.subInlets[:0]
	for _, si := range l.subInlets {
		if !si.isClosed() {
			live = append(live, si)
		}
	}
	l.subInlets = append(live, p)
}

// SetHandler installs the handler for the sub-stream signals.
func (s *SubSinkInlet[T]) SetHandler(h InHandler) { s.handler = h }

// Sink returns the sink to materialize the sub-stream into. It may be
// materialized once.
func (s *SubSinkInlet[T]) Sink() Graph[SinkShape[T], NotUsed] {
	return SubscriberSink[T](s.adapter).Named(s.name)
}

// Pull requests one element from the sub-stream.
func (s *SubSinkInlet[T]) Pull() {
	if s.closed {
		violation(s.l.name, "cannot pull closed sub-inlet %s", s.name)
	}
	if s.pulled {
		violation(s.l.name, "cannot pull sub-inlet %s twice", s.name)
	}
	s.pulled = true
	s.has = false
	if s.sub != nil {
		s.sub.Request(1)
	}
}

// Grab takes the available element.
func (s *SubSinkInlet[T]) Grab() T {
	if !s.has {
		violation(s.l.name, "cannot grab element from sub-inlet %s: no element available", s.name)
	}
	v := s.elem
	var zero T
	s.elem = zero
	s.has = false
	return v
}

// IsAvailable reports whether an element can be grabbed.
func (s *SubSinkInlet[T]) IsAvailable() bool { return s.has }

// HasBeenPulled reports whether an element was requested and not delivered.
func (s *SubSinkInlet[T]) HasBeenPulled() bool { return s.pulled && !s.closed }

// IsClosed reports whether the sub-stream terminated or was cancelled.
func (s *SubSinkInlet[T]) IsClosed() bool { return s.closed }

// Cancel cancels the sub-stream.
func (s *SubSinkInlet[T]) Cancel() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancelled = true
	s.pulled = false
	if s.sub != nil {
		s.sub.Cancel()
	}
}

func (s *SubSinkInlet[T]) cancelFromParent() { s.Cancel() }
func (s *SubSinkInlet[T]) isClosed() bool    { return s.closed }

func (s *SubSinkInlet[T]) onSubscribe(sub Subscription) {
	if s.sub != nil || s.cancelled {
		sub.Cancel()
		return
	}
	s.sub = sub
	if s.pulled {
		sub.Request(1)
	}
}

func (s *SubSinkInlet[T]) onNext(v T) {
	if s.closed {
		return
	}
	s.elem = v
	s.has = true
	s.pulled = false
	if s.handler.OnPush != nil {
		s.handler.OnPush()
	}
}

func (s *SubSinkInlet[T]) onComplete() {
	if s.closed {
		return
	}
	s.closed = true
	s.pulled = false
	if s.handler.OnUpstreamFinish != nil {
		s.handler.OnUpstreamFinish()
	}
}

func (s *SubSinkInlet[T]) onError(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.pulled = false
	if s.handler.OnUpstreamFailure != nil {
		s.handler.OnUpstreamFailure(err)
		return
	}
	s.l.FailStage(err)
}

func (l *Logic) closeSubInlets(error) {
	for _, s := range l.subInlets {
		s.cancelFromParent()
	}
	l.subInlets = nil
}

// MaterializeSubSource runs src into s on the materializer of the owning
// stage and returns the source's materialized value.
func MaterializeSubSource[T, M any](s *SubSinkInlet[T], src Graph[SourceShape[T], M]) (M, error) {
	return Run(To(src, s.Sink(), KeepLeft[M, NotUsed]), s.l.Materializer())
}
