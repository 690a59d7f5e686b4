package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

func drain[T any](b *core.Buffer[T]) []T {
	var out []T
	for !b.IsEmpty() {
		out = append(out, b.Dequeue())
	}
	return out
}

func TestBufferFIFO(t *testing.T) {
	b := core.NewBuffer[int](3)
	require.Equal(t, 3, b.Cap())

	for round := range 3 {
		b.Enqueue(round)
		b.Enqueue(round + 10)
		require.Equal(t, round, b.Peek())
		require.Equal(t, []int{round, round + 10}, drain(b))
	}

	b.Enqueue(1)
	b.Enqueue(2)
	b.Enqueue(3)
	require.True(t, b.IsFull())
	require.Panics(t, func() { b.Enqueue(4) })

	b.DropTail()
	require.Equal(t, []int{1, 2}, drain(b))

	b.Enqueue(5)
	b.Clear()
	require.True(t, b.IsEmpty())
	require.Zero(t, b.Len())
}

func TestBufferOffer(t *testing.T) {
	tests := []struct {
		strategy core.OverflowStrategy
		accepted bool
		want     []int
	}{
		{core.DropHead, true, []int{2, 3, 4}},
		{core.DropTail, true, []int{1, 2, 4}},
		{core.DropBuffer, true, []int{4}},
		{core.DropNew, true, []int{1, 2, 3}},
		{core.Backpressure, false, []int{1, 2, 3}},
		{core.Fail, false, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			b := core.NewBuffer[int](3)
			for i := 1; i <= 3; i++ {
				require.True(t, b.Offer(i, tt.strategy))
			}
			require.Equal(t, tt.accepted, b.Offer(4, tt.strategy))
			require.Equal(t, tt.want, drain(b))
		})
	}
}

func TestNewBufferRejectsCapacity(t *testing.T) {
	require.Panics(t, func() { core.NewBuffer[int](0) })
}
