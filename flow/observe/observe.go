// Package observe provides pass-through stages for logging, metrics,
// lifecycle hooks and termination watching. None of them change the
// elements or the demand they see.
package observe

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap/zapcore"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

const instrumentationName = "github.com/lguimbarda/reactive-flow/flow/observe"

// Log creates a Flow that publishes every element, the completion, the
// failure and the cancellation it sees to the materializer's EventSink,
// tagged with name. extract picks what to log of an element; nil logs the
// element itself. Levels come from the LogLevels attribute.
func Log[T any](name string, extract func(T) any) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("log", func(attrs core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		levels := core.GetAttributeOr(attrs, core.DefaultLogLevels)
		publish := func(level zapcore.Level, message string, cause error) {
			if level == core.LogOff {
				return
			}
			l.EventSink().Publish(level, name, message, cause)
		}

		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if levels.OnElement != core.LogOff {
					var shown any = v
					if extract != nil {
						shown = extract(v)
					}
					publish(levels.OnElement, fmt.Sprintf("[%s] Element: %v", name, shown), nil)
				}
				core.Push(l, out, v)
			},
			OnUpstreamFinish: func() {
				publish(levels.OnFinish, fmt.Sprintf("[%s] Upstream finished.", name), nil)
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				publish(levels.OnFailure, fmt.Sprintf("[%s] Upstream failed.", name), err)
				l.FailStage(err)
			},
		}, core.OutHandler{
			OnPull: func() { l.Pull(in) },
			OnDownstreamFinish: func(cause error) {
				publish(levels.OnFinish, fmt.Sprintf("[%s] Downstream finished.", name), cause)
				l.CancelStage(cause)
			},
		})
		return l
	})
}

// WithLogLevels returns the attributes setting the levels of a Log stage.
func WithLogLevels(onElement, onFinish, onFailure zapcore.Level) core.Attributes {
	return core.NewAttributes(core.LogLevels{OnElement: onElement, OnFinish: onFinish, OnFailure: onFailure})
}

// Outcomes recorded by Monitor on flow.stage.terminations.
const (
	OutcomeComplete = "complete"
	OutcomeFailure  = "failure"
	OutcomeCancel   = "cancel"
)

// Monitor creates a Flow counting the elements passing through it on the
// flow.stage.elements counter and its termination on
// flow.stage.terminations, both attributed with stage=name. Instruments come
// from the materializer's meter provider.
func Monitor[T any](name string) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("monitor", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			elements     metric.Int64Counter
			terminations metric.Int64Counter
		)
		stageAttr := attribute.String("stage", name)
		terminated := func(outcome string) {
			terminations.Add(l.Context(), 1, metric.WithAttributes(stageAttr, attribute.String("outcome", outcome)))
		}

		l.PreStart = func() {
			meter := l.Materializer().MeterProvider().Meter(instrumentationName)
			var errE, errT error
			elements, errE = meter.Int64Counter("flow.stage.elements",
				metric.WithDescription("Elements that passed a monitored stage."))
			terminations, errT = meter.Int64Counter("flow.stage.terminations",
				metric.WithDescription("Terminations of a monitored stage by outcome."))
			if err := errors.Join(errE, errT); err != nil {
				l.FailStage(fmt.Errorf("create monitor instruments: %w", err))
			}
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				elements.Add(l.Context(), 1, metric.WithAttributes(stageAttr))
				core.Push(l, out, core.Grab(l, in))
			},
			OnUpstreamFinish: func() {
				terminated(OutcomeComplete)
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				terminated(OutcomeFailure)
				l.FailStage(err)
			},
		}, core.OutHandler{
			OnPull: func() { l.Pull(in) },
			OnDownstreamFinish: func(cause error) {
				terminated(OutcomeCancel)
				l.CancelStage(cause)
			},
		})
		return l
	})
}

// WatchTermination creates a Flow materializing a future completed when the
// stage terminates: successfully on upstream completion or plain downstream
// cancellation, with the error on failure, cancellation with a cause or
// abrupt termination.
func WatchTermination[T any]() core.Flow[T, T, *core.Future[core.Done]] {
	return core.FlowStageMat("watchTermination", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) (*core.Logic, *core.Future[core.Done]) {
		l := core.NewFlowLogic(in, out)
		p := core.NewPromise[core.Done]()
		l.PostStop = func() {
			if cause := l.AbortCause(); cause != nil {
				p.Fail(cause)
				return
			}
			p.Success(core.Done{})
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
			OnUpstreamFailure: func(err error) {
				p.Fail(err)
				l.FailStage(err)
			},
		}, core.OutHandler{
			OnPull: func() { l.Pull(in) },
			OnDownstreamFinish: func(cause error) {
				if cause != nil {
					p.Fail(cause)
				}
				l.CancelStage(cause)
			},
		})
		return l, p.Future()
	})
}
