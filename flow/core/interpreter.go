package core

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// connection is the single channel of signals between one outlet and one
// inlet inside an island. Both logics see it; only the island goroutine
// touches it.
type connection struct {
	id       int
	up       *Logic
	upSlot   *outSlot
	down     *Logic
	downSlot *inSlot

	pulls      uint64
	demand     bool
	pushing    bool
	hasElem    bool
	elem       any
	upClosed   bool
	downClosed bool
	failure    error
}

type eventKind uint8

const (
	evPull eventKind = iota
	evPush
	evComplete
	evFail
	evCancel
)

func (k eventKind) String() string {
	switch k {
	case evPull:
		return "pull"
	case evPush:
		return "push"
	case evComplete:
		return "complete"
	case evFail:
		return "fail"
	case evCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type event struct {
	kind  eventKind
	conn  *connection
	cause error
	seq   uint64
}

// task is work posted into an island from any goroutine. drop runs instead
// of run when the island has already terminated.
type task struct {
	run  func()
	drop func()
}

// mailbox is the external queue of an island: a mutex-guarded slice plus a
// one-slot wakeup channel.
type mailbox struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	wakeup chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wakeup: make(chan struct{}, 1)}
}

func (m *mailbox) post(t task) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	select {
	case m.wakeup <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) takeAll() []task {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasks
	m.tasks = nil
	return tasks
}

func (m *mailbox) close() []task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	tasks := m.tasks
	m.tasks = nil
	return tasks
}

// island runs a group of fused stages on one goroutine. Stages never run
// concurrently with other stages of the same island.
type island struct {
	id     int64
	mat    *Materializer
	log    *zap.Logger
	logics []*Logic
	conns  []*connection
	queue  []event
	head   int
	live   int
	box    *mailbox
}

func newIsland(id int64, mat *Materializer, log *zap.Logger) *island {
	return &island{
		id:  id,
		mat: mat,
		log: log.With(zap.Int64("island", id)),
		box: newMailbox(),
	}
}

func (is *island) connect(up *Logic, out *port, down *Logic, in *port) *connection {
	c := &connection{
		id:       len(is.conns),
		up:       up,
		upSlot:   up.outByPort[out],
		down:     down,
		downSlot: down.inByPort[in],
	}
	c.upSlot.conn = c
	c.downSlot.conn = c
	is.conns = append(is.conns, c)
	return c
}

func (is *island) enqueue(ev event) {
	is.queue = append(is.queue, ev)
}

func (is *island) post(t task) {
	if !is.box.post(t) && t.drop != nil {
		t.drop()
	}
}

// attach binds a logic to this island and flushes the callbacks posted before
// the island existed.
func (is *island) attach(l *Logic) {
	is.logics = append(is.logics, l)
	l.mu.Lock()
	l.island = is
	early := l.early
	l.early = nil
	l.mu.Unlock()
	for _, t := range early {
		is.post(t)
	}
}

func (is *island) run() {
	is.mat.islandStarted(is)
	defer is.mat.islandStopped(is)

	is.live = len(is.logics)
	for _, l := range is.logics {
		l.started = true
		if l.PreStart != nil {
			is.invoke(l, l.PreStart)
		} else {
			is.checkStop(l)
			is.drain()
		}
	}

	done := is.mat.ctx.Done()
	for is.live > 0 {
		select {
		case <-is.box.wakeup:
			for _, t := range is.box.takeAll() {
				t.run()
			}
		case <-done:
			is.abort(&AbruptTerminationError{})
		}
	}
	for _, t := range is.box.close() {
		if t.drop != nil {
			t.drop()
		}
	}
}

// invoke runs fn on behalf of l, then processes every signal it caused.
func (is *island) invoke(l *Logic, fn func()) {
	if l.stopped {
		return
	}
	is.call(l, fn)
	is.checkStop(l)
	is.drain()
}

func (is *island) call(l *Logic, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			is.handlerPanic(l, r)
		}
	}()
	fn()
}

func (is *island) handlerPanic(l *Logic, r any) {
	var err error
	if pv, ok := r.(*ProtocolViolationError); ok {
		if pv.Stage == "" {
			pv.Stage = l.name
		}
		err = pv
	} else {
		err = NewPanicError(r)
	}
	l.logger.Error("stage failed", zap.Error(err))
	if l.stopped {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("stage failed while failing", zap.Any("panic", r))
		}
	}()
	l.FailStage(err)
}

func (is *island) drain() {
	for is.head < len(is.queue) {
		ev := is.queue[is.head]
		is.queue[is.head] = event{}
		is.head++
		is.process(ev)
	}
	is.queue = is.queue[:0]
	is.head = 0
}

func (is *island) process(ev event) {
	c := ev.conn
	switch ev.kind {
	case evPull:
		if c.upClosed || c.downClosed || !c.demand || ev.seq != c.pulls {
			return
		}
		l, s := c.up, c.upSlot
		is.dispatch(l, func() {
			if len(s.emitting) > 0 {
				l.emitNext(s)
				return
			}
			if s.handler.OnPull != nil {
				s.handler.OnPull()
			}
		})
	case evPush:
		if c.downClosed || !c.pushing {
			return
		}
		c.pushing = false
		l, s := c.down, c.downSlot
		is.dispatch(l, func() {
			if s.handler.OnPush != nil {
				s.handler.OnPush()
			}
		})
	case evComplete, evFail:
		if c.downClosed {
			return
		}
		l, s := c.down, c.downSlot
		l.markInClosed(s)
		is.dispatch(l, func() {
			if ev.kind == evComplete {
				if s.handler.OnUpstreamFinish != nil {
					s.handler.OnUpstreamFinish()
				} else {
					l.CompleteStage()
				}
				return
			}
			if s.handler.OnUpstreamFailure != nil {
				s.handler.OnUpstreamFailure(ev.cause)
			} else {
				l.FailStage(ev.cause)
			}
		})
	case evCancel:
		if c.upClosed {
			return
		}
		l, s := c.up, c.upSlot
		c.upClosed = true
		s.emitting = nil
		s.completeAfterEmit = false
		l.markOutClosed(s)
		is.dispatch(l, func() {
			if s.handler.OnDownstreamFinish != nil {
				s.handler.OnDownstreamFinish(ev.cause)
			} else {
				l.CancelStage(ev.cause)
			}
		})
	}
}

func (is *island) dispatch(l *Logic, fn func()) {
	if l.stopped {
		return
	}
	is.call(l, fn)
	is.checkStop(l)
}

func (is *island) checkStop(l *Logic) {
	if l.stopped || !l.started {
		return
	}
	if l.openPorts > 0 || l.keepGoing {
		return
	}
	is.finish(l)
}

func (is *island) finish(l *Logic) {
	l.stopped = true
	is.live--
	l.cancelAllTimers()
	l.closeSubInlets(l.abortCause)
	l.cancelCtx()
	if l.PostStop != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("post stop failed", zap.Error(NewPanicError(r)))
				}
			}()
			l.PostStop()
		}()
	}
	l.logger.Debug("stage stopped")
}

func (is *island) fireTimer(l *Logic, key any, gen uint64) {
	e, ok := l.timers[key]
	if !ok || e.gen != gen || l.stopped {
		return
	}
	if e.interval > 0 {
		d := e.interval
		if !e.fixedDly {
			e.next = e.next.Add(e.interval)
			d = max(0, time.Until(e.next))
		}
		l.armTimer(key, e, d)
	} else {
		delete(l.timers, key)
	}
	if l.OnTimer == nil {
		return
	}
	is.invoke(l, func() { l.OnTimer(key) })
}

// abort stops every running stage without signalling, as happens on
// materializer shutdown.
func (is *island) abort(cause error) {
	for _, l := range is.logics {
		if l.stopped || !l.started {
			continue
		}
		l.abortCause = cause
		is.finish(l)
	}
	is.queue = is.queue[:0]
	is.head = 0
	is.log.Debug("island aborted", zap.Error(cause))
}

// isAbrupt reports whether err comes from a shutdown rather than a stage.
func isAbrupt(err error) bool {
	var abrupt *AbruptTerminationError
	return errors.As(err, &abrupt)
}
