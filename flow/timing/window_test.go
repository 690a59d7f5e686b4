package timing_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/flow/filter"
	"github.com/lguimbarda/reactive-flow/flow/timing"
	"github.com/lguimbarda/reactive-flow/internal/probe"
)

func sum(acc, v int) (int, error)   { return acc + v, nil }
func identity(v int) (int, error) { return v, nil }

func TestGroupedWithinSplitsBySize(t *testing.T) {
	got := collect(t, flow.Via(flow.Range(1, 8), timing.GroupedWithin[int](3, time.Hour)))
	require.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, got)
}

func TestGroupedWithinSplitsByTime(t *testing.T) {
	src := flow.Via(flow.Via(flow.Range(1, 5), timing.Delay[int](30*time.Millisecond, 1, core.Backpressure)),
		timing.GroupedWithin[int](100, 10*time.Millisecond))
	got := collect(t, src)
	require.Greater(t, len(got), 1)
	require.Equal(t, []int{1, 2, 3, 4}, slices.Concat(got...))
	for _, g := range got {
		require.NotEmpty(t, g)
	}
}

func TestGroupedWithinEmptyStream(t *testing.T) {
	got := collect(t, flow.Via(flow.Empty[int](), timing.GroupedWithin[int](3, 10*time.Millisecond)))
	require.Empty(t, got)
}

func TestTimeWindow(t *testing.T) {
	got := collect(t, flow.Via(flow.Range(1, 11), timing.TimeWindow(20*time.Millisecond, false, identity, sum)))
	total := 0
	for _, v := range got {
		total += v
	}
	require.Equal(t, 55, total)
}

func TestPulse(t *testing.T) {
	start := time.Now()
	got := collect(t, flow.Via(flow.Range(1, 4), timing.Pulse[int](15*time.Millisecond, false)))
	require.Equal(t, []int{1, 2, 3}, got)
	require.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestKeepAliveInjectsIntoIdleStream(t *testing.T) {
	src := flow.Via(flow.Via(flow.Never[int](), timing.KeepAlive(5*time.Millisecond, func() int { return 0 })), filter.Take[int](3))
	require.Equal(t, []int{0, 0, 0}, collect(t, src))
}

// An element pulled before an injection used up the demand is held until
// the next pull.
func TestKeepAliveHoldsElementArrivingAfterInjection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	mat, err := flow.NewMaterializer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		mat.Shutdown()
		mat.Wait()
		cancel()
	})

	pub := probe.NewPublisher[int](t)
	sub := probe.NewSubscriber[int](t)
	src := flow.Via(flow.FromPublisher[int](pub), timing.KeepAlive(20*time.Millisecond, func() int { return 0 }))
	_, err = flow.RunWith(flow.WithMaterializer(ctx, mat), src, flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	pub.ExpectSubscription()
	pub.ExpectRequest()
	sub.ExpectSubscription()

	sub.Request(1)
	require.Equal(t, 0, sub.ExpectNext())
	pub.SendNext(7)
	sub.ExpectNoMessage(50 * time.Millisecond)

	require.Equal(t, 7, sub.RequestNext())
	pub.SendNext(8)
	pub.SendComplete()
	require.Equal(t, 8, sub.RequestNext())
	sub.ExpectComplete()
}

func TestKeepAlivePassesElements(t *testing.T) {
	got := collect(t, flow.Via(flow.FromSlice([]int{1, 2, 3}), timing.KeepAlive(time.Hour, func() int { return 0 })))
	require.Equal(t, []int{1, 2, 3}, got)
}
