package flowerrors

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// ErrCircuitOpen is returned when a circuit breaker is in the open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type timerKey int

const (
	restartTimer timerKey = iota
	retryTimer
)

// RestartSettings configure the exponential backoff between restarts and
// retries. Up to MaxRestarts restarts are allowed within MaxRestartsWithin; a
// negative MaxRestarts means no limit and a zero MaxRestartsWithin counts
// restarts over the whole run.
type RestartSettings struct {
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	RandomFactor      float64
	MaxRestarts       int
	MaxRestartsWithin time.Duration
}

// DefaultRestartSettings returns settings restarting without limit.
func DefaultRestartSettings(minBackoff, maxBackoff time.Duration, randomFactor float64) RestartSettings {
	return RestartSettings{
		MinBackoff:   minBackoff,
		MaxBackoff:   maxBackoff,
		RandomFactor: randomFactor,
		MaxRestarts:  -1,
	}
}

func (s RestartSettings) validate() {
	switch {
	case s.MinBackoff <= 0:
		panic(&core.ArgumentError{Arg: "MinBackoff", Reason: "must be positive"})
	case s.MaxBackoff < s.MinBackoff:
		panic(&core.ArgumentError{Arg: "MaxBackoff", Reason: "must not be below MinBackoff"})
	case s.RandomFactor < 0 || s.RandomFactor > 1:
		panic(&core.ArgumentError{Arg: "RandomFactor", Reason: "must be within [0, 1]"})
	}
}

func (s RestartSettings) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.MinBackoff
	b.MaxInterval = s.MaxBackoff
	b.RandomizationFactor = s.RandomFactor
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// restarter tracks the restarts of one materialization.
type restarter struct {
	settings RestartSettings
	backoff  backoff.BackOff
	recent   []time.Time
}

func newRestarter(s RestartSettings) *restarter {
	return &restarter{settings: s, backoff: s.newBackOff()}
}

// next returns the delay before the next restart, or false when no restart
// is allowed any more.
func (r *restarter) next(now time.Time) (time.Duration, bool) {
	if within := r.settings.MaxRestartsWithin; within > 0 {
		live := r.recent[:0]
		for _, t := range r.recent {
			if now.Sub(t) < within {
				live = append(live, t)
			}
		}
		r.recent = live
		if len(r.recent) == 0 {
			r.backoff.Reset()
		}
	}
	if r.settings.MaxRestarts >= 0 && len(r.recent) >= r.settings.MaxRestarts {
		return 0, false
	}
	d := r.backoff.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	r.recent = append(r.recent, now)
	return d, true
}

// giveUp ends the stage with the last termination of the wrapped stream.
func giveUp(l *core.Logic, err error) {
	if err != nil {
		l.FailStage(err)
		return
	}
	l.CompleteStage()
}

// RestartSource creates a Source that runs the source built by factory and,
// whenever it completes or fails, builds and runs a new one after a backoff.
// Elements keep flowing to the same downstream across restarts. Once no
// restart is allowed the last termination goes downstream.
func RestartSource[T, M any](settings RestartSettings, factory func() (core.Source[T, M], error)) core.Source[T, core.NotUsed] {
	return restartSource("restartSource", settings, false, factory)
}

// RestartSourceOnFailures is RestartSource restarting only on failures; the
// wrapped source completing completes the stage.
func RestartSourceOnFailures[T, M any](settings RestartSettings, factory func() (core.Source[T, M], error)) core.Source[T, core.NotUsed] {
	return restartSource("restartSourceOnFailures", settings, true, factory)
}

func restartSource[T, M any](name string, settings RestartSettings, onlyOnFailures bool, factory func() (core.Source[T, M], error)) core.Source[T, core.NotUsed] {
	settings.validate()
	return core.SourceStage(name, func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		r := newRestarter(settings)
		var (
			sub     *core.SubSinkInlet[T]
			restart func(err error)
		)
		start := func() {
			res := core.Try(func(struct{}) (core.Source[T, M], error) { return factory() }, struct{}{})
			if res.IsError() {
				restart(res.Error())
				return
			}
			s := core.NewSubSinkInlet[T](l, name+".sub")
			s.SetHandler(core.InHandler{
				OnPush: func() { core.Push(l, out, s.Grab()) },
				OnUpstreamFinish: func() {
					if onlyOnFailures {
						l.CompleteStage()
						return
					}
					restart(nil)
				},
				OnUpstreamFailure: restart,
			})
			sub = s
			if _, err := core.MaterializeSubSource(s, res.Value()); err != nil {
				l.FailStage(err)
				return
			}
			if l.IsAvailable(out) {
				s.Pull()
			}
		}
		restart = func(err error) {
			sub = nil
			d, ok := r.next(time.Now())
			if !ok {
				giveUp(l, err)
				return
			}
			l.Logger().Debug("restarting source", zap.Duration("backoff", d), zap.Error(err))
			l.ScheduleOnce(restartTimer, d)
		}

		l.PreStart = start
		l.OnTimer = func(any) { start() }
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				if sub != nil && !sub.IsClosed() && !sub.HasBeenPulled() {
					sub.Pull()
				}
			},
		})
		return l, core.NotUsed{}
	})
}

// RestartFlow creates a Flow that runs the flow built by factory and, when
// it completes or fails while upstream is still open, builds and runs a new
// one after a backoff. Elements in flight inside the failed flow are lost.
func RestartFlow[I, O, M any](settings RestartSettings, factory func() (core.Flow[I, O, M], error)) core.Flow[I, O, core.NotUsed] {
	return restartFlow("restartFlow", settings, false, factory)
}

// RestartFlowOnFailures is RestartFlow restarting only on failures.
func RestartFlowOnFailures[I, O, M any](settings RestartSettings, factory func() (core.Flow[I, O, M], error)) core.Flow[I, O, core.NotUsed] {
	return restartFlow("restartFlowOnFailures", settings, true, factory)
}

func restartFlow[I, O, M any](name string, settings RestartSettings, onlyOnFailures bool, factory func() (core.Flow[I, O, M], error)) core.Flow[I, O, core.NotUsed] {
	settings.validate()
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[I], out core.Outlet[O]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		r := newRestarter(settings)
		var (
			feed    *core.SubSourceOutlet[I]
			drain   *core.SubSinkInlet[O]
			held    core.Option[I]
			restart func(err error)
		)
		start := func() {
			res := core.Try(func(struct{}) (core.Flow[I, O, M], error) { return factory() }, struct{}{})
			if res.IsError() {
				restart(res.Error())
				return
			}
			f := core.NewSubSourceOutlet[I](l, name+".in")
			d := core.NewSubSinkInlet[O](l, name+".out")
			f.SetHandler(core.OutHandler{
				OnPull: func() {
					switch {
					case held.Valid:
						f.Push(held.Value)
						held = core.None[I]()
						if l.IsClosed(in) {
							f.Complete()
						}
					case l.IsClosed(in):
						f.Complete()
					default:
						l.TryPull(in)
					}
				},
				// the inner flow stopped consuming; its output side decides
				OnDownstreamFinish: func(error) {},
			})
			d.SetHandler(core.InHandler{
				OnPush: func() { core.Push(l, out, d.Grab()) },
				OnUpstreamFinish: func() {
					if onlyOnFailures || (l.IsClosed(in) && !held.Valid) {
						l.CompleteStage()
						return
					}
					restart(nil)
				},
				OnUpstreamFailure: func(err error) {
					if l.IsClosed(in) && !held.Valid {
						l.FailStage(err)
						return
					}
					restart(err)
				},
			})
			feed, drain = f, d
			g := core.To(core.Via(f.Source(), res.Value(), core.KeepRight[core.NotUsed, M]), d.Sink(), core.KeepLeft[M, core.NotUsed])
			if _, err := core.Run(g, l.Materializer()); err != nil {
				l.FailStage(err)
				return
			}
			if l.IsAvailable(out) {
				d.Pull()
			}
		}
		restart = func(err error) {
			if feed != nil {
				feed.Complete()
			}
			feed, drain = nil, nil
			delay, ok := r.next(time.Now())
			if !ok {
				giveUp(l, err)
				return
			}
			l.Logger().Debug("restarting flow", zap.Duration("backoff", delay), zap.Error(err))
			l.ScheduleOnce(restartTimer, delay)
		}

		l.PreStart = start
		l.OnTimer = func(any) { start() }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if feed != nil && feed.IsAvailable() {
					feed.Push(v)
					return
				}
				held = core.Some(v)
			},
			OnUpstreamFinish: func() {
				if feed != nil && !held.Valid {
					feed.Complete()
				}
			},
		}, core.OutHandler{
			OnPull: func() {
				if drain != nil && !drain.IsClosed() && !drain.HasBeenPulled() {
					drain.Pull()
				}
			},
		})
		return l
	})
}

// Retry creates a Flow that calls operation for each element, retrying a
// failed call up to maxRetries more times. A call still failing after that
// goes to the supervision decider.
func Retry[IN, OUT any](maxRetries int, operation func(IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	return RetryWhen(maxRetries, func(error, int) bool { return true }, operation).Named("retry")
}

// RetryWhen is Retry where shouldRetry, given the error and the 0-based
// attempt, decides whether another attempt is made.
func RetryWhen[IN, OUT any](maxRetries int, shouldRetry func(err error, attempt int) bool, operation func(IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	maxRetries = max(maxRetries, 0)
	return core.FlowStage("retryWhen", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				var res core.Result[OUT]
				for attempt := 0; attempt <= maxRetries; attempt++ {
					res = core.Try(operation, v)
					if !res.IsError() || attempt == maxRetries || !shouldRetry(res.Error(), attempt) {
						break
					}
				}
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
					return
				}
				core.Push(l, out, res.Value())
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// RetryWithBackoff is Retry waiting with exponential backoff between
// attempts. The island is never blocked: the element waits on a stage timer
// while upstream is backpressured.
func RetryWithBackoff[IN, OUT any](settings RestartSettings, operation func(IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	settings.validate()
	return core.FlowStage("retryWithBackoff", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			pending core.Option[IN]
			r       *restarter
		)
		attempt := func() {
			v := pending.Value
			res := core.Try(operation, v)
			if !res.IsError() {
				pending = core.None[IN]()
				core.Push(l, out, res.Value())
				if l.IsClosed(in) {
					l.CompleteStage()
				}
				return
			}
			if d, ok := r.next(time.Now()); ok {
				l.ScheduleOnce(retryTimer, d)
				return
			}
			pending = core.None[IN]()
			if !l.Supervise(res.Error(), nil) {
				return
			}
			if l.IsClosed(in) {
				l.CompleteStage()
				return
			}
			l.Pull(in)
		}

		l.OnTimer = func(any) { attempt() }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				pending = core.Some(core.Grab(l, in))
				r = newRestarter(settings)
				attempt()
			},
			OnUpstreamFinish: func() {
				if !pending.Valid {
					l.CompleteStage()
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards an operation shared by any number of streams. After
// failureThreshold consecutive failures it opens and rejects calls with
// ErrCircuitOpen; after resetTimeout it lets calls through again (half-open)
// and closes after halfOpenSuccesses successes.
type CircuitBreaker[IN, OUT any] struct {
	operation         func(IN) (OUT, error)
	failureThreshold  int
	resetTimeout      time.Duration
	halfOpenSuccesses int
	state             CircuitState
	failures          int
	successes         int
	lastFailure       time.Time
	mu                sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker[IN, OUT any](
	operation func(IN) (OUT, error),
	failureThreshold int,
	resetTimeout time.Duration,
	halfOpenSuccesses int,
) *CircuitBreaker[IN, OUT] {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if halfOpenSuccesses <= 0 {
		halfOpenSuccesses = 1
	}

	return &CircuitBreaker[IN, OUT]{
		operation:         operation,
		failureThreshold:  failureThreshold,
		resetTimeout:      resetTimeout,
		halfOpenSuccesses: halfOpenSuccesses,
		state:             CircuitClosed,
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker[IN, OUT]) Execute(v IN) (OUT, error) {
	cb.mu.Lock()
	if cb.state == CircuitOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.successes = 0
	}
	if cb.state == CircuitOpen {
		cb.mu.Unlock()
		var zero OUT
		return zero, ErrCircuitOpen
	}
	cb.mu.Unlock()

	result, err := cb.operation(v)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
		return result, err
	}

	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.halfOpenSuccesses {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	} else {
		cb.failures = 0
	}
	return result, nil
}

// State returns the current circuit state.
func (cb *CircuitBreaker[IN, OUT]) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// WithCircuitBreaker creates a Flow calling cb for every element. Failures,
// including ErrCircuitOpen, go to the supervision decider, so with Resume
// the elements rejected by an open circuit are dropped.
func WithCircuitBreaker[IN, OUT any](cb *CircuitBreaker[IN, OUT]) core.Flow[IN, OUT, core.NotUsed] {
	return core.FlowStage("circuitBreaker", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try(cb.Execute, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
					return
				}
				core.Push(l, out, res.Value())
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
