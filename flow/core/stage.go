package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stage is the blueprint of a single operator. It declares its ports once in
// Shape and creates a fresh Logic, plus its materialized value, every time the
// enclosing graph is run. Stages hold no per-run state.
type Stage interface {
	Shape() Shape
	Attributes() Attributes
	CreateLogic(attrs Attributes) (*Logic, any)
}

// InHandler reacts to signals arriving on an inlet. Nil fields fall back to
// the default behaviour: finishing completes the stage, failure fails it.
type InHandler struct {
	OnPush            func()
	OnUpstreamFinish  func()
	OnUpstreamFailure func(err error)
}

// OutHandler reacts to signals arriving on an outlet. A nil OnDownstreamFinish
// cancels the stage.
type OutHandler struct {
	OnPull             func()
	OnDownstreamFinish func(cause error)
}

type inSlot struct {
	p       *port
	handler InHandler
	conn    *connection
	closed  bool
}

type outSlot struct {
	p                 *port
	handler           OutHandler
	conn              *connection
	closed            bool
	emitting          []any
	completeAfterEmit bool
}

// Logic is the running instance of a Stage: its handlers, its per-run state
// and its view of the ports. Every method must be called from the stage's own
// handlers, timers or async callbacks, which the interpreter runs one at a
// time on the island goroutine.
type Logic struct {
	// PreStart runs once before any signal is delivered.
	PreStart func()
	// PostStop runs once after the stage stopped, including on abrupt
	// termination. AbortCause reports why.
	PostStop func()
	// OnTimer is invoked for every timer scheduled by the stage.
	OnTimer func(key any)

	ins       []*inSlot
	outs      []*outSlot
	inByPort  map[*port]*inSlot
	outByPort map[*port]*outSlot

	attrs     Attributes
	name      string
	island    *island
	openPorts int
	keepGoing bool
	failed    bool
	started   bool
	stopped   bool

	timers   map[any]*timerEntry
	timerGen uint64

	subInlets []subInlet

	ctx        context.Context
	cancelCtx  context.CancelFunc
	logger     *zap.Logger
	abortCause error

	mu    sync.Mutex
	early []task
}

// NewLogic creates the logic for a stage with the given declared shape.
func NewLogic(shape Shape) *Logic {
	l := &Logic{
		inByPort:  make(map[*port]*inSlot),
		outByPort: make(map[*port]*outSlot),
		logger:    zap.NewNop(),
		ctx:       context.Background(),
		cancelCtx: func() {},
	}
	for _, in := range shape.Inlets() {
		s := &inSlot{p: in.inlet()}
		l.ins = append(l.ins, s)
		l.inByPort[s.p] = s
	}
	for _, out := range shape.Outlets() {
		s := &outSlot{p: out.outlet()}
		l.outs = append(l.outs, s)
		l.outByPort[s.p] = s
	}
	l.openPorts = len(l.ins) + len(l.outs)
	return l
}

func (l *Logic) inSlot(in InPort) *inSlot {
	s, ok := l.inByPort[in.inlet()]
	if !ok {
		violation(l.name, "%s is not an inlet of this stage", in)
	}
	return s
}

func (l *Logic) outSlot(out OutPort) *outSlot {
	s, ok := l.outByPort[out.outlet()]
	if !ok {
		violation(l.name, "%s is not an outlet of this stage", out)
	}
	return s
}

// SetInHandler installs the handler for an inlet.
func (l *Logic) SetInHandler(in InPort, h InHandler) {
	l.inSlot(in).handler = h
}

// SetOutHandler installs the handler for an outlet.
func (l *Logic) SetOutHandler(out OutPort, h OutHandler) {
	l.outSlot(out).handler = h
}

// SetHandlers installs both handlers of a single-inlet, single-outlet stage.
func (l *Logic) SetHandlers(in InPort, out OutPort, ih InHandler, oh OutHandler) {
	l.SetInHandler(in, ih)
	l.SetOutHandler(out, oh)
}

// Attributes returns the effective attributes of this stage.
func (l *Logic) Attributes() Attributes { return l.attrs }

// Name returns the stage name used in logs and errors.
func (l *Logic) Name() string { return l.name }

// Logger returns the stage logger.
func (l *Logic) Logger() *zap.Logger { return l.logger }

// Context is cancelled when the stage stops. Goroutines started by the stage
// should watch it.
func (l *Logic) Context() context.Context { return l.ctx }

// Go runs fn on a goroutine tracked by the materializer: Materializer.Wait
// waits for it, the stage itself never does.
func (l *Logic) Go(fn func()) {
	if l.island == nil {
		go fn()
		return
	}
	l.island.mat.wg.Go(fn)
}

// Materializer returns the materializer running this stage, for stages that
// materialize sub-streams.
func (l *Logic) Materializer() *Materializer {
	if l.island == nil {
		return nil
	}
	return l.island.mat
}

// EventSink returns the sink log-publishing stages write to.
func (l *Logic) EventSink() EventSink {
	if l.island == nil {
		return NewZapEventSink(l.logger)
	}
	return l.island.mat.sink
}

// AbortCause returns the error a stage should fail its outstanding
// materialized values with from PostStop.
func (l *Logic) AbortCause() error {
	if l.abortCause != nil {
		return l.abortCause
	}
	return &AbruptStageTerminationError{Stage: l.name}
}

// SetKeepGoing keeps the stage alive after all its ports closed, until it
// completes itself. Stages driven by timers or callbacks use this.
func (l *Logic) SetKeepGoing(enabled bool) { l.keepGoing = enabled }

// Decide consults the stage's supervision strategy for a user-code fault.
func (l *Logic) Decide(err error) Directive {
	strategy, ok := GetAttribute[SupervisionStrategy](l.attrs)
	if !ok {
		return Stop
	}
	return Decide(strategy.Decider, err)
}

// Pull signals demand for one element on in.
func (l *Logic) Pull(in InPort) {
	s := l.inSlot(in)
	c := s.conn
	if s.closed || c.downClosed {
		violation(l.name, "cannot pull closed port %s", in)
	}
	if c.demand || c.pushing {
		violation(l.name, "cannot pull port %s twice", in)
	}
	c.hasElem = false
	c.elem = nil
	c.demand = true
	c.pulls++
	if !c.upClosed {
		l.island.enqueue(event{kind: evPull, conn: c, seq: c.pulls})
	}
}

// TryPull pulls unless the port is closed or already pulled.
func (l *Logic) TryPull(in InPort) {
	s := l.inSlot(in)
	if !s.closed && !s.conn.downClosed && !s.conn.demand && !s.conn.pushing {
		l.Pull(in)
	}
}

// Cancel stops consuming from in.
func (l *Logic) Cancel(in InPort) {
	l.CancelWithCause(in, nil)
}

// CancelWithCause stops consuming from in, telling upstream why.
func (l *Logic) CancelWithCause(in InPort, cause error) {
	s := l.inSlot(in)
	c := s.conn
	if c.downClosed {
		return
	}
	c.downClosed = true
	c.demand = false
	c.pushing = false
	c.hasElem = false
	c.elem = nil
	l.markInClosed(s)
	if !c.upClosed {
		l.island.enqueue(event{kind: evCancel, conn: c, cause: cause})
	}
}

// Complete signals upstream completion on out. Pending emissions are
// delivered first.
func (l *Logic) Complete(out OutPort) {
	s := l.outSlot(out)
	if s.conn.upClosed {
		return
	}
	if len(s.emitting) > 0 {
		s.completeAfterEmit = true
		return
	}
	l.closeOut(s, nil)
}

// Fail signals failure on out, discarding pending emissions.
func (l *Logic) Fail(out OutPort, err error) {
	s := l.outSlot(out)
	if s.conn.upClosed {
		return
	}
	s.emitting = nil
	s.completeAfterEmit = false
	l.closeOut(s, err)
}

func (l *Logic) closeOut(s *outSlot, err error) {
	c := s.conn
	c.upClosed = true
	c.demand = false
	c.failure = err
	l.markOutClosed(s)
	if !c.downClosed {
		kind := evComplete
		if err != nil {
			kind = evFail
		}
		l.island.enqueue(event{kind: kind, conn: c, cause: err})
	}
}

func (l *Logic) markInClosed(s *inSlot) {
	if !s.closed {
		s.closed = true
		l.openPorts--
	}
}

func (l *Logic) markOutClosed(s *outSlot) {
	if !s.closed {
		s.closed = true
		l.openPorts--
	}
}

// CompleteStage cancels every inlet and completes every outlet.
func (l *Logic) CompleteStage() {
	l.keepGoing = false
	for _, s := range l.ins {
		l.CancelWithCause(inRef{s.p}, nil)
	}
	for _, s := range l.outs {
		l.Complete(outRef{s.p})
	}
	l.closeSubInlets(nil)
}

// FailStage fails every outlet and cancels every inlet with err. The first
// failure becomes the stage's AbortCause.
func (l *Logic) FailStage(err error) {
	if l.abortCause == nil {
		l.abortCause = err
	}
	l.keepGoing = false
	for _, s := range l.outs {
		l.Fail(outRef{s.p}, err)
	}
	for _, s := range l.ins {
		l.CancelWithCause(inRef{s.p}, err)
	}
	l.closeSubInlets(err)
	if l.island != nil && !l.failed {
		l.failed = true
		l.island.mat.recordFailure(l, err)
	}
}

// CancelStage is the default reaction to downstream cancellation: cancel
// upstream with the same cause and complete the remaining outlets.
func (l *Logic) CancelStage(cause error) {
	l.keepGoing = false
	for _, s := range l.ins {
		l.CancelWithCause(inRef{s.p}, cause)
	}
	for _, s := range l.outs {
		l.Complete(outRef{s.p})
	}
	l.closeSubInlets(cause)
}

// IsAvailable reports, for an inlet, whether an element can be grabbed, and
// for an outlet, whether an element can be pushed.
func (l *Logic) IsAvailable(p Port) bool {
	if s, ok := l.inByPort[p.portRef()]; ok {
		return s.conn.hasElem && !s.conn.pushing
	}
	s := l.outSlot(p.(OutPort))
	c := s.conn
	return c.demand && !c.downClosed && !c.upClosed && len(s.emitting) == 0
}

// HasBeenPulled reports whether in has outstanding demand.
func (l *Logic) HasBeenPulled(in InPort) bool {
	s := l.inSlot(in)
	return (s.conn.demand || s.conn.pushing) && !s.closed
}

// IsClosed reports whether the port can no longer carry signals.
func (l *Logic) IsClosed(p Port) bool {
	if s, ok := l.inByPort[p.portRef()]; ok {
		return s.closed
	}
	s := l.outSlot(p.(OutPort))
	return s.closed || s.conn.downClosed
}

// inRef and outRef let the logic address its own slots without knowing the
// element type.
type inRef struct{ p *port }

func (r inRef) portRef() *port { return r.p }
func (r inRef) inlet() *port   { return r.p }
func (r inRef) String() string { return r.p.String() }

type outRef struct{ p *port }

func (r outRef) portRef() *port { return r.p }
func (r outRef) outlet() *port  { return r.p }
func (r outRef) String() string { return r.p.String() }

// Push delivers v on out. The port must have been pulled.
func Push[T any](l *Logic, out Outlet[T], v T) {
	l.push(l.outSlot(out), v)
}

func (l *Logic) push(s *outSlot, v any) {
	c := s.conn
	if c.upClosed {
		violation(l.name, "cannot push closed port %s", s.p)
	}
	if c.downClosed {
		return
	}
	if !c.demand {
		violation(l.name, "cannot push port %s twice, or before it being pulled", s.p)
	}
	c.demand = false
	c.pushing = true
	c.hasElem = true
	c.elem = v
	l.island.enqueue(event{kind: evPush, conn: c})
}

// Grab takes the element available on in.
func Grab[T any](l *Logic, in Inlet[T]) T {
	s := l.inSlot(in)
	c := s.conn
	if !c.hasElem || c.pushing {
		violation(l.name, "cannot grab element from port %s: no element available", in)
	}
	v, _ := c.elem.(T)
	c.hasElem = false
	c.elem = nil
	return v
}

// Emit pushes v as soon as out is pulled, queueing it behind earlier
// emissions. The stage's OnPull is not invoked while emissions are pending.
func Emit[T any](l *Logic, out Outlet[T], v T) {
	s := l.outSlot(out)
	if s.conn.upClosed || s.conn.downClosed {
		return
	}
	if len(s.emitting) == 0 && l.IsAvailable(out) {
		l.push(s, v)
		return
	}
	s.emitting = append(s.emitting, v)
}

// EmitMultiple emits every element of vs in order.
func EmitMultiple[T any](l *Logic, out Outlet[T], vs []T) {
	for _, v := range vs {
		Emit(l, out, v)
	}
}

// IsEmitting reports whether out has pending emissions.
func (l *Logic) IsEmitting(out OutPort) bool {
	return len(l.outSlot(out).emitting) > 0
}

// emitNext delivers the next pending emission after a pull.
func (l *Logic) emitNext(s *outSlot) {
	v := s.emitting[0]
	s.emitting[0] = nil
	s.emitting = s.emitting[1:]
	l.push(s, v)
	if len(s.emitting) == 0 {
		s.emitting = nil
		if s.completeAfterEmit {
			s.completeAfterEmit = false
			l.closeOut(s, nil)
		}
	}
}

type timerEntry struct {
	gen      uint64
	timer    *time.Timer
	interval time.Duration
	next     time.Time
	fixedDly bool
}

// ScheduleOnce fires OnTimer(key) once after d, replacing any timer with the
// same key.
func (l *Logic) ScheduleOnce(key any, d time.Duration) {
	l.schedule(key, d, 0, false)
}

// ScheduleWithFixedDelay fires OnTimer(key) after initial and then every
// interval measured from the end of the previous firing.
func (l *Logic) ScheduleWithFixedDelay(key any, initial, interval time.Duration) {
	l.schedule(key, initial, interval, true)
}

// ScheduleAtFixedRate fires OnTimer(key) after initial and then at a fixed
// rate of interval.
func (l *Logic) ScheduleAtFixedRate(key any, initial, interval time.Duration) {
	l.schedule(key, initial, interval, false)
}

func (l *Logic) schedule(key any, initial, interval time.Duration, fixedDelay bool) {
	if l.island == nil {
		violation(l.name, "timers can only be scheduled once the stage is running")
	}
	l.CancelTimer(key)
	if l.timers == nil {
		l.timers = make(map[any]*timerEntry)
	}
	l.timerGen++
	e := &timerEntry{
		gen:      l.timerGen,
		interval: interval,
		next:     time.Now().Add(initial),
		fixedDly: fixedDelay,
	}
	l.timers[key] = e
	l.armTimer(key, e, initial)
}

func (l *Logic) armTimer(key any, e *timerEntry, d time.Duration) {
	gen := e.gen
	is := l.island
	e.timer = time.AfterFunc(d, func() {
		is.post(task{run: func() { is.fireTimer(l, key, gen) }})
	})
}

// CancelTimer cancels the timer with key, if any.
func (l *Logic) CancelTimer(key any) {
	if e, ok := l.timers[key]; ok {
		e.timer.Stop()
		delete(l.timers, key)
	}
}

// IsTimerActive reports whether a timer with key is scheduled.
func (l *Logic) IsTimerActive(key any) bool {
	_, ok := l.timers[key]
	return ok
}

func (l *Logic) cancelAllTimers() {
	for key, e := range l.timers {
		e.timer.Stop()
		delete(l.timers, key)
	}
}

// post schedules t on the stage's island, or keeps it until the island
// starts.
func (l *Logic) post(t task) {
	l.mu.Lock()
	if l.island == nil {
		l.early = append(l.early, t)
		l.mu.Unlock()
		return
	}
	is := l.island
	l.mu.Unlock()
	is.post(t)
}

// AsyncCallback delivers events from other goroutines into a running stage.
type AsyncCallback[T any] struct {
	l       *Logic
	handler func(T)
}

// NewAsyncCallback creates a callback running handler inside the stage. It can
// be created while the logic is being built, before the stage starts.
func NewAsyncCallback[T any](l *Logic, handler func(T)) *AsyncCallback[T] {
	return &AsyncCallback[T]{l: l, handler: handler}
}

// Invoke schedules the handler with v. Events sent to a stopped stage are
// dropped.
func (cb *AsyncCallback[T]) Invoke(v T) {
	cb.InvokeOr(v, nil)
}

// InvokeOr schedules the handler with v, or runs onDropped if the stage
// stopped before the event could be delivered.
func (cb *AsyncCallback[T]) InvokeOr(v T, onDropped func()) {
	l := cb.l
	cb.l.post(task{
		run: func() {
			if l.stopped {
				if onDropped != nil {
					onDropped()
				}
				return
			}
			l.island.invoke(l, func() { cb.handler(v) })
		},
		drop: onDropped,
	})
}
