package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

func TestPromiseFirstCompletionWins(t *testing.T) {
	p := core.NewPromise[int]()
	require.False(t, p.IsCompleted())

	require.True(t, p.Success(1))
	require.False(t, p.Success(2))
	require.False(t, p.Fail(errBoom))

	v, err, ok := p.Future().Value()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestFutureCallbacks(t *testing.T) {
	p := core.NewPromise[string]()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(v string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			v = err.Error()
		}
		got = append(got, v)
	}
	p.Future().OnComplete(record)
	p.Fail(errBoom)
	p.Future().OnComplete(record)

	require.Equal(t, []string{"boom", "boom"}, got)
}

func TestFutureGet(t *testing.T) {
	ctx := context.Background()

	v, err := core.Successful(3).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = core.Failed[int](errBoom).Get(ctx)
	require.ErrorIs(t, err, errBoom)

	p := core.NewPromise[int]()
	time.AfterFunc(5*time.Millisecond, func() { p.Success(8) })
	v, err = p.Future().Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, v)

	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_, err = core.NewPromise[int]().Future().Get(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureDone(t *testing.T) {
	p := core.NewPromise[core.Done]()
	select {
	case <-p.Future().Done():
		t.Fatal("future completed early")
	default:
	}
	p.Complete(core.Done{}, nil)
	<-p.Future().Done()
	require.True(t, p.Future().IsCompleted())
}
