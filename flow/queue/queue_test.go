package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/flow/queue"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

func withMaterializer(t *testing.T) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	mat, err := flow.NewMaterializer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		mat.Shutdown()
		mat.Wait()
		cancel()
	})
	return flow.WithMaterializer(ctx, mat), mat.Wait
}

// stalled is a sink that never signals demand.
func stalled[T any]() flow.Sink[T, flow.NotUsed] {
	return core.SinkStage("stalled", func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, flow.NotUsed) {
		l := core.NewSinkLogic(in)
		l.SetInHandler(in, core.InHandler{OnPush: func() {}})
		return l, flow.NotUsed{}
	})
}

func runQueue[T any](t *testing.T, ctx context.Context, src flow.Source[T, *queue.SourceQueue[T]]) *queue.SourceQueue[T] {
	t.Helper()
	q, err := flow.Materialize(ctx, core.To(src, stalled[T](), core.KeepLeft[*queue.SourceQueue[T], flow.NotUsed]))
	require.NoError(t, err)
	return q
}

func TestSourceQueueDropNew(t *testing.T) {
	ctx, _ := withMaterializer(t)
	q := runQueue(t, ctx, queue.Source[int](1, core.DropNew, 1))

	first, err := q.OfferAsync(1).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Enqueued, first)

	second, err := q.OfferAsync(2).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Dropped, second)
}

func TestSourceQueueZeroBuffer(t *testing.T) {
	ctx, _ := withMaterializer(t)
	q := runQueue(t, ctx, queue.Source[int](0, core.DropHead, 1))

	res, err := q.Offer(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, queue.Dropped, res)
}

func TestSourceQueueToSinkQueue(t *testing.T) {
	ctx, _ := withMaterializer(t)
	res, err := flow.Materialize(ctx, core.To(queue.Source[string](2, core.Backpressure, 4), queue.Sink[string](1, 1),
		core.KeepBoth[*queue.SourceQueue[string], *queue.SinkQueue[string]]))
	require.NoError(t, err)
	in, out := res.Left, res.Right

	for _, v := range []string{"a", "b", "c"} {
		r, err := in.Offer(ctx, v)
		require.NoError(t, err)
		require.Equal(t, queue.Enqueued, r)
	}
	in.Complete()

	var got []string
	for {
		v, err := out.Pull(ctx)
		require.NoError(t, err)
		if !v.Valid {
			break
		}
		got = append(got, v.Value)
	}
	require.Equal(t, []string{"a", "b", "c"}, got)

	_, err = in.WatchCompletion().Get(ctx)
	require.NoError(t, err)
}

func TestSourceQueueBackpressure(t *testing.T) {
	ctx, _ := withMaterializer(t)
	q := runQueue(t, ctx, queue.Source[int](1, core.Backpressure, 1))

	first, err := q.Offer(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, queue.Enqueued, first)

	waiting := q.OfferAsync(2)
	_, err = q.OfferAsync(3).Get(ctx)
	require.ErrorIs(t, err, queue.ErrTooManyOffers)
	require.False(t, waiting.IsCompleted())

	q.Complete()
	_, err = waiting.Get(ctx)
	require.ErrorIs(t, err, core.ErrQueueClosed)
}

func TestSourceQueueBackpressureResumes(t *testing.T) {
	ctx, _ := withMaterializer(t)
	res, err := flow.Materialize(ctx, core.To(queue.Source[int](1, core.Backpressure, 2), queue.Sink[int](1, 1),
		core.KeepBoth[*queue.SourceQueue[int], *queue.SinkQueue[int]]))
	require.NoError(t, err)
	in, out := res.Left, res.Right

	// The sink queue buffers one element and the source queue another.
	offers := []*core.Future[queue.OfferResult]{in.OfferAsync(1), in.OfferAsync(2), in.OfferAsync(3)}
	_, err = offers[1].Get(ctx)
	require.NoError(t, err)
	require.False(t, offers[2].IsCompleted())

	for want := 1; want <= 3; want++ {
		v, err := out.Pull(ctx)
		require.NoError(t, err)
		require.Equal(t, core.Some(want), v)
	}
	r, err := offers[2].Get(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Enqueued, r)
}

func TestSourceQueueFailStrategy(t *testing.T) {
	ctx, _ := withMaterializer(t)
	q := runQueue(t, ctx, queue.Source[int](1, core.Fail, 1))

	_, err := q.Offer(ctx, 1)
	require.NoError(t, err)
	_, err = q.Offer(ctx, 2)
	var overflow *core.BufferOverflowError
	require.True(t, errors.As(err, &overflow), "got %v", err)
	require.Equal(t, 1, overflow.Size)

	_, err = q.WatchCompletion().Get(ctx)
	require.ErrorAs(t, err, &overflow)
}

func TestSourceQueueFail(t *testing.T) {
	ctx, _ := withMaterializer(t)
	res, err := flow.Materialize(ctx, core.To(queue.Source[int](4, core.Backpressure, 1), flow.Seq[int](),
		core.KeepBoth[*queue.SourceQueue[int], *core.Future[[]int]]))
	require.NoError(t, err)

	_, err = res.Left.Offer(ctx, 1)
	require.NoError(t, err)
	res.Left.Fail(errBoom)

	_, err = res.Right.Get(ctx)
	require.ErrorIs(t, err, errBoom)
	_, err = res.Left.WatchCompletion().Get(ctx)
	require.ErrorIs(t, err, errBoom)
}

func TestSourceQueueDownstreamCancel(t *testing.T) {
	ctx, wait := withMaterializer(t)
	res, err := flow.Materialize(ctx, core.To(queue.Source[int](4, core.Backpressure, 1), flow.Head[int](),
		core.KeepBoth[*queue.SourceQueue[int], *core.Future[int]]))
	require.NoError(t, err)

	_, err = res.Left.Offer(ctx, 7)
	require.NoError(t, err)
	head, err := res.Right.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, head)

	_, err = res.Left.WatchCompletion().Get(ctx)
	require.NoError(t, err)

	wait()
	_, err = res.Left.Offer(ctx, 8)
	require.ErrorIs(t, err, core.ErrQueueClosed)
}

func TestSourceQueueRejectsArguments(t *testing.T) {
	require.Panics(t, func() { queue.Source[int](-1, core.DropNew, 1) })
	require.Panics(t, func() { queue.Source[int](1, core.DropNew, 0) })
	require.Panics(t, func() { queue.Sink[int](0, 1) })
	require.Panics(t, func() { queue.Sink[int](1, 0) })
}

func TestSinkQueue(t *testing.T) {
	ctx, wait := withMaterializer(t)
	q, err := flow.RunWith(ctx, flow.Range(0, 3), queue.Sink[int](2, 1))
	require.NoError(t, err)

	for want := 0; want < 3; want++ {
		v, err := q.Pull(ctx)
		require.NoError(t, err)
		require.Equal(t, core.Some(want), v)
	}
	v, err := q.Pull(ctx)
	require.NoError(t, err)
	require.False(t, v.Valid)

	wait()
	_, err = q.Pull(ctx)
	require.ErrorIs(t, err, core.ErrQueueClosed)
}

func TestSinkQueueFailure(t *testing.T) {
	ctx, _ := withMaterializer(t)
	src := flow.Via(flow.Range(0, 10), transform.Map(func(v int) (int, error) {
		if v == 2 {
			return 0, errBoom
		}
		return v, nil
	}))
	q, err := flow.RunWith(ctx, src, queue.Sink[int](4, 1))
	require.NoError(t, err)

	for want := 0; want < 2; want++ {
		v, err := q.Pull(ctx)
		require.NoError(t, err)
		require.Equal(t, core.Some(want), v)
	}
	_, err = q.Pull(ctx)
	require.ErrorIs(t, err, errBoom)
}

func TestSinkQueueConcurrentPullsAndCancel(t *testing.T) {
	ctx, _ := withMaterializer(t)
	q, err := flow.RunWith(ctx, flow.Never[int](), queue.Sink[int](1, 1))
	require.NoError(t, err)

	pending := q.PullAsync()
	_, err = q.Pull(ctx)
	require.ErrorIs(t, err, queue.ErrTooManyPulls)

	q.Cancel()
	_, err = pending.Get(ctx)
	require.ErrorIs(t, err, core.ErrQueueClosed)
}
