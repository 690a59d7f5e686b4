package core_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
)

func TestPushWithoutPullIsProtocolViolation(t *testing.T) {
	ctx, mat := newMaterializer(t)

	src := core.SourceStage("doublePush", func(_ core.Attributes, out core.Outlet[int]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				core.Push(l, out, 1)
				core.Push(l, out, 2)
			},
		})
		return l, core.NotUsed{}
	})

	// Violations bypass supervision.
	_, err := collect(ctx, t, mat, src.WithSupervision(core.ResumingDecider))
	var pv *core.ProtocolViolationError
	require.ErrorAs(t, err, &pv)
	require.Contains(t, pv.Stage, "doublePush")
}

func TestHandlerPanicFailsStage(t *testing.T) {
	ctx, mat := newMaterializer(t)

	src := core.SourceStage("panicking", func(_ core.Attributes, out core.Outlet[int]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		l.SetOutHandler(out, core.OutHandler{OnPull: func() { panic("oops") }})
		return l, core.NotUsed{}
	})

	_, err := collect(ctx, t, mat, src)
	var p core.ErrPanic
	require.ErrorAs(t, err, &p)
	require.Equal(t, "oops", p.Value)
}

func TestEmitMultipleThenComplete(t *testing.T) {
	ctx, mat := newMaterializer(t)

	src := core.SourceStage("burst", func(_ core.Attributes, out core.Outlet[int]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		l.PreStart = func() {
			core.EmitMultiple(l, out, []int{1, 2, 3})
			l.Complete(out)
		}
		l.SetOutHandler(out, core.OutHandler{OnPull: func() {}})
		return l, core.NotUsed{}
	})

	got, err := collect(ctx, t, mat, src)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)
}

// ticker emits n ascending integers, one per timer firing.
func ticker(n int, interval time.Duration) core.Source[int, core.NotUsed] {
	return core.SourceStage("ticker", func(_ core.Attributes, out core.Outlet[int]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		next := 0
		l.PreStart = func() { l.ScheduleAtFixedRate("tick", interval, interval) }
		l.OnTimer = func(any) {
			if !l.IsAvailable(out) {
				return
			}
			core.Push(l, out, next)
			next++
			if next == n {
				l.CancelTimer("tick")
				l.CompleteStage()
			}
		}
		l.SetOutHandler(out, core.OutHandler{OnPull: func() {}})
		return l, core.NotUsed{}
	})
}

func TestTimers(t *testing.T) {
	ctx, mat := newMaterializer(t)

	start := time.Now()
	got, err := collect(ctx, t, mat, ticker(3, 5*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, got)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestScheduleOnceReplacesTimer(t *testing.T) {
	ctx, mat := newMaterializer(t)

	var (
		fired  atomic.Int32
		active atomic.Bool
	)
	src := core.SourceStage("once", func(_ core.Attributes, out core.Outlet[string]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		l.PreStart = func() {
			l.ScheduleOnce("k", time.Hour)
			l.ScheduleOnce("k", time.Millisecond)
			active.Store(l.IsTimerActive("k"))
		}
		l.OnTimer = func(key any) {
			fired.Add(1)
			core.Emit(l, out, key.(string))
			l.Complete(out)
		}
		l.SetOutHandler(out, core.OutHandler{OnPull: func() {}})
		return l, core.NotUsed{}
	})

	got, err := collect(ctx, t, mat, src)
	require.NoError(t, err)
	require.Equal(t, []string{"k"}, got)
	require.EqualValues(t, 1, fired.Load())
	require.True(t, active.Load())
}

// callbackSource pushes values delivered through its materialized callback
// and completes on a negative one.
func callbackSource() core.Source[int, *core.AsyncCallback[int]] {
	return core.SourceStage("callbackSource", func(_ core.Attributes, out core.Outlet[int]) (*core.Logic, *core.AsyncCallback[int]) {
		l := core.NewSourceLogic(out)
		cb := core.NewAsyncCallback(l, func(v int) {
			if v < 0 {
				l.CompleteStage()
				return
			}
			core.Emit(l, out, v)
		})
		l.SetOutHandler(out, core.OutHandler{OnPull: func() {}})
		return l, cb
	})
}

func TestAsyncCallback(t *testing.T) {
	ctx, mat := newMaterializer(t)

	res, err := core.Run(core.To(callbackSource(), flow.Seq[int](), core.KeepBoth[*core.AsyncCallback[int], *core.Future[[]int]]), mat)
	require.NoError(t, err)
	cb, seq := res.Left, res.Right

	go func() {
		for i := range 5 {
			cb.Invoke(i)
		}
		cb.Invoke(-1)
	}()
	got, err := seq.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)

	mat.Wait()
	dropped := make(chan struct{})
	cb.InvokeOr(7, func() { close(dropped) })
	select {
	case <-dropped:
	case <-ctx.Done():
		t.Fatal("expected the event to a stopped stage to be dropped")
	}
}

// watchedSink records what it sees when it stops.
type watchedSink struct {
	ctxDone    atomic.Bool
	abortCause atomic.Value
}

func (w *watchedSink) sink() core.Sink[int, core.NotUsed] {
	return core.SinkStage("watched", func(_ core.Attributes, in core.Inlet[int]) (*core.Logic, core.NotUsed) {
		l := core.NewSinkLogic(in)
		l.PreStart = func() { l.Pull(in) }
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				core.Grab(l, in)
				l.Pull(in)
			},
		})
		l.PostStop = func() {
			w.ctxDone.Store(l.Context().Err() != nil)
			w.abortCause.Store(l.AbortCause())
		}
		return l, core.NotUsed{}
	})
}

func TestPostStop(t *testing.T) {
	t.Run("completion", func(t *testing.T) {
		_, mat := newMaterializer(t)
		w := &watchedSink{}
		_, err := core.Run(core.To(flow.Range(0, 3), w.sink(), core.KeepNone[core.NotUsed, core.NotUsed]), mat)
		require.NoError(t, err)
		mat.Wait()

		require.True(t, w.ctxDone.Load(), "the stage context is cancelled before PostStop")
		var stageErr *core.AbruptStageTerminationError
		require.ErrorAs(t, w.abortCause.Load().(error), &stageErr)
		require.Contains(t, stageErr.Stage, "watched")
	})

	t.Run("failure", func(t *testing.T) {
		_, mat := newMaterializer(t)
		w := &watchedSink{}
		boom := errors.New("boom")
		_, err := core.Run(core.To(flow.Failed[int](boom), w.sink(), core.KeepNone[core.NotUsed, core.NotUsed]), mat)
		require.NoError(t, err)
		mat.Wait()

		require.ErrorIs(t, w.abortCause.Load().(error), boom)
	})

	t.Run("shutdown", func(t *testing.T) {
		_, mat := newMaterializer(t)
		w := &watchedSink{}
		_, err := core.Run(core.To(flow.Never[int](), w.sink(), core.KeepNone[core.NotUsed, core.NotUsed]), mat)
		require.NoError(t, err)
		mat.Shutdown()
		mat.Wait()

		var abrupt *core.AbruptTerminationError
		require.ErrorAs(t, w.abortCause.Load().(error), &abrupt)
	})
}

// forwarder re-emits the elements of a sub-stream materialized on its first
// pull.
func forwarder[T, M any](inner core.Source[T, M]) core.Source[T, core.NotUsed] {
	return core.SourceStage("forwarder", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		sub := core.NewSubSinkInlet[T](l, "forwarder.in")
		sub.SetHandler(core.InHandler{
			OnPush:            func() { core.Push(l, out, sub.Grab()) },
			OnUpstreamFinish:  l.CompleteStage,
			OnUpstreamFailure: l.FailStage,
		})
		started := false
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				if !started {
					started = true
					if _, err := core.MaterializeSubSource(sub, inner); err != nil {
						l.FailStage(err)
						return
					}
				}
				sub.Pull()
			},
		})
		return l, core.NotUsed{}
	})
}

func TestSubSinkInlet(t *testing.T) {
	ctx, mat := newMaterializer(t)

	got, err := collect(ctx, t, mat, forwarder(flow.Range(0, 5)))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)

	_, err = collect(ctx, t, mat, forwarder(flow.Failed[int](errBoom)))
	require.ErrorIs(t, err, errBoom)
}

func TestSubSinkInletCancelledWithParent(t *testing.T) {
	ctx, mat := newMaterializer(t)

	innerDone := make(chan error, 1)
	src := forwarder(flow.Via(flow.Repeat(1), onTermination[int](innerDone)))

	f, err := core.Run(core.To(src, flow.Head[int](), core.KeepRight[core.NotUsed, *core.Future[int]]), mat)
	require.NoError(t, err)
	v, err := f.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	select {
	case <-innerDone:
	case <-ctx.Done():
		t.Fatal("expected the sub-stream to stop with its parent")
	}
}

// onTermination passes elements through and reports once the stage stops.
func onTermination[T any](done chan<- error) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("onTermination", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
		}, core.PullOnDemand(l, in))
		l.PostStop = func() { done <- l.AbortCause() }
		return l
	})
}

func TestMaterializerLifecycle(t *testing.T) {
	_, mat := newMaterializer(t, core.WithName("lifecycle"))
	require.False(t, mat.IsShutdown())
	require.Equal(t, core.DefaultSettings(), mat.Settings())

	mat.Shutdown()
	mat.Wait()
	require.True(t, mat.IsShutdown())
}

func TestMaterializerRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Settings)
		arg    string
	}{
		{"initial size", func(s *core.Settings) { s.InitialInputBufferSize = 0 }, "initial-input-buffer-size"},
		{"max below initial", func(s *core.Settings) { s.MaxInputBufferSize = 2 }, "max-input-buffer-size"},
		{"negative timeout", func(s *core.Settings) { s.SubscriptionTimeout = -time.Second }, "subscription-timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := core.DefaultSettings()
			tt.mutate(&s)
			_, err := core.NewMaterializer(context.Background(), core.WithSettings(s))
			var argErr *core.ArgumentError
			require.ErrorAs(t, err, &argErr)
			require.Equal(t, tt.arg, argErr.Arg)
		})
	}
}

func TestRunAfterShutdown(t *testing.T) {
	_, mat := newMaterializer(t)
	mat.Shutdown()

	_, err := core.Run(core.To(flow.Single(1), flow.Ignore[int](), core.KeepRight[core.NotUsed, *core.Future[core.Done]]), mat)
	require.True(t, errors.Is(err, core.ErrMaterializerClosed))
}
