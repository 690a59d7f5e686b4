package core

// stageFunc is a Stage defined by a shape and a logic factory.
type stageFunc[S Shape, M any] struct {
	shape  S
	attrs  Attributes
	create func(attrs Attributes, shape S) (*Logic, M)
}

func (s *stageFunc[S, M]) Shape() Shape           { return s.shape }
func (s *stageFunc[S, M]) Attributes() Attributes { return s.attrs }

func (s *stageFunc[S, M]) CreateLogic(attrs Attributes) (*Logic, any) {
	l, m := s.create(attrs, s.shape)
	return l, m
}

// NewStage defines a single-stage graph. create runs once per
// materialization and receives the stage's effective attributes and its
// declared ports.
func NewStage[S Shape, M any](shape S, attrs Attributes, create func(attrs Attributes, shape S) (*Logic, M)) Graph[S, M] {
	return FromStage[S, M](&stageFunc[S, M]{shape: shape, attrs: attrs, create: create})
}

// SourceStage defines a source named name.
func SourceStage[T, M any](name string, create func(attrs Attributes, out Outlet[T]) (*Logic, M)) Graph[SourceShape[T], M] {
	shape := SourceShape[T]{Out: NewOutlet[T](name + ".out")}
	return NewStage(shape, Named(name), func(attrs Attributes, s SourceShape[T]) (*Logic, M) {
		return create(attrs, s.Out)
	})
}

// FlowStage defines a one-in, one-out stage named name.
func FlowStage[I, O any](name string, create func(attrs Attributes, in Inlet[I], out Outlet[O]) *Logic) Graph[FlowShape[I, O], NotUsed] {
	return FlowStageMat(name, func(attrs Attributes, in Inlet[I], out Outlet[O]) (*Logic, NotUsed) {
		return create(attrs, in, out), NotUsed{}
	})
}

// FlowStageMat is FlowStage for stages with a materialized value.
func FlowStageMat[I, O, M any](name string, create func(attrs Attributes, in Inlet[I], out Outlet[O]) (*Logic, M)) Graph[FlowShape[I, O], M] {
	shape := FlowShape[I, O]{In: NewInlet[I](name + ".in"), Out: NewOutlet[O](name + ".out")}
	return NewStage(shape, Named(name), func(attrs Attributes, s FlowShape[I, O]) (*Logic, M) {
		return create(attrs, s.In, s.Out)
	})
}

// SinkStage defines a sink named name.
func SinkStage[T, M any](name string, create func(attrs Attributes, in Inlet[T]) (*Logic, M)) Graph[SinkShape[T], M] {
	shape := SinkShape[T]{In: NewInlet[T](name + ".in")}
	return NewStage(shape, Named(name), func(attrs Attributes, s SinkShape[T]) (*Logic, M) {
		return create(attrs, s.In)
	})
}

// NewFlowLogic creates the logic of a one-in, one-out stage.
func NewFlowLogic[I, O any](in Inlet[I], out Outlet[O]) *Logic {
	return NewLogic(FlowShape[I, O]{In: in, Out: out})
}

// PullOnDemand is the OutHandler of stages that simply forward demand.
func PullOnDemand(l *Logic, in InPort) OutHandler {
	return OutHandler{OnPull: func() { l.Pull(in) }}
}

// NewSourceLogic creates the logic of a stage with a single outlet.
func NewSourceLogic[T any](out Outlet[T]) *Logic {
	return NewLogic(SourceShape[T]{Out: out})
}

// NewSinkLogic creates the logic of a stage with a single inlet.
func NewSinkLogic[T any](in Inlet[T]) *Logic {
	return NewLogic(SinkShape[T]{In: in})
}

// Supervise hands a user-code fault to the supervision decider. On Stop the
// stage fails; on Restart reset runs. It reports whether the stage goes on,
// dropping the element that caused the fault.
func (l *Logic) Supervise(err error, reset func()) bool {
	switch l.Decide(err) {
	case Resume:
		return true
	case Restart:
		if reset != nil {
			reset()
		}
		return true
	default:
		l.FailStage(err)
		return false
	}
}
