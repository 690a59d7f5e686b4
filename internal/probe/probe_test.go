package probe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/internal/probe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func withMaterializer(t *testing.T, opts ...core.MaterializerOption) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	mat, err := flow.NewMaterializer(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		mat.Shutdown()
		mat.Wait()
		cancel()
	})
	return flow.WithMaterializer(ctx, mat), mat.Wait
}

func TestSubscriberHonoursDemand(t *testing.T) {
	ctx, _ := withMaterializer(t)
	sub := probe.NewSubscriber[int](t)
	_, err := flow.RunWith(ctx, flow.Range(0, 3), flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	sub.ExpectSubscription()
	sub.ExpectNoMessage(20 * time.Millisecond)
	sub.Request(2)
	require.Equal(t, []int{0, 1}, sub.ExpectNextN(2))
	sub.ExpectNoMessage(20 * time.Millisecond)
	require.Equal(t, 2, sub.RequestNext())
	sub.ExpectComplete()
}

func TestSubscriberNonPositiveRequest(t *testing.T) {
	ctx, _ := withMaterializer(t)
	sub := probe.NewSubscriber[int](t)
	_, err := flow.RunWith(ctx, flow.Repeat(1), flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	sub.ExpectSubscription()
	sub.Request(0)
	var argErr *core.ArgumentError
	require.ErrorAs(t, sub.ExpectError(), &argErr)
}

func TestPublisherDrivesStream(t *testing.T) {
	ctx, _ := withMaterializer(t)
	pub := probe.NewPublisher[int](t)
	sub := probe.NewSubscriber[int](t)
	_, err := flow.RunWith(ctx, flow.FromPublisher[int](pub), flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	pub.ExpectSubscription()
	require.Positive(t, pub.ExpectRequest())
	sub.ExpectSubscription()

	sub.Request(2)
	pub.SendNext(1, 2, 3)
	require.Equal(t, []int{1, 2}, sub.ExpectNextN(2))
	sub.ExpectNoMessage(20 * time.Millisecond)
	require.Equal(t, 3, sub.RequestNext())

	pub.SendComplete()
	sub.ExpectComplete()
}

func TestPublisherErrorReachesSubscriber(t *testing.T) {
	ctx, _ := withMaterializer(t)
	pub := probe.NewPublisher[int](t)
	sub := probe.NewSubscriber[int](t)
	_, err := flow.RunWith(ctx, flow.FromPublisher[int](pub), flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	errBoom := errors.New("boom")
	pub.ExpectSubscription()
	pub.ExpectRequest()
	sub.ExpectSubscription()
	pub.SendError(errBoom)
	require.ErrorIs(t, sub.ExpectError(), errBoom)
}

func TestPublisherBeyondDemand(t *testing.T) {
	ctx, _ := withMaterializer(t)
	pub := probe.NewPublisher[int](t)
	sub := probe.NewSubscriber[int](t)
	_, err := flow.RunWith(ctx, flow.FromPublisher[int](pub), flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	pub.ExpectSubscription()
	n := pub.ExpectRequest()
	sub.ExpectSubscription()
	for i := range n + 1 {
		pub.SendNext(int(i))
	}
	require.Equal(t, int64(-1), pub.Pending())

	var violation *core.ProtocolViolationError
	require.ErrorAs(t, sub.ExpectError(), &violation)
	pub.ExpectCancellation()
}

func TestCancellationReachesPublisher(t *testing.T) {
	ctx, _ := withMaterializer(t)
	pub := probe.NewPublisher[string](t)
	sub := probe.NewSubscriber[string](t)
	_, err := flow.RunWith(ctx, flow.FromPublisher[string](pub), flow.FromSubscriber[string](sub))
	require.NoError(t, err)

	pub.ExpectSubscription()
	pub.ExpectRequest()
	sub.ExpectSubscription()
	sub.Cancel()
	pub.ExpectCancellation()
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx, _ := withMaterializer(t)
	pub := probe.NewPublisher[int](t)
	sub := probe.NewSubscriber[int](t)
	_, err := flow.RunWith(ctx, flow.FromPublisher[int](pub), flow.FromSubscriber[int](sub))
	require.NoError(t, err)

	pub.ExpectSubscription()
	pub.ExpectRequest()
	sub.ExpectSubscription()
	sub.Cancel()
	sub.Cancel()
	pub.ExpectCancellation()
	pub.ExpectNoSignal(50 * time.Millisecond)
	sub.ExpectNoMessage(20 * time.Millisecond)
}

func TestAsPublisherSingleSubscriber(t *testing.T) {
	ctx, _ := withMaterializer(t)
	pub, err := flow.RunWith(ctx, flow.Range(0, 3), flow.AsPublisher[int]())
	require.NoError(t, err)

	first := probe.NewSubscriber[int](t)
	second := probe.NewSubscriber[int](t)
	pub.Subscribe(first)
	first.ExpectSubscription()
	pub.Subscribe(second)
	second.ExpectSubscription()
	var violation *core.ProtocolViolationError
	require.ErrorAs(t, second.ExpectError(), &violation)

	first.Request(10)
	require.Equal(t, []int{0, 1, 2}, first.ExpectNextN(3))
	first.ExpectComplete()
}

func TestAsPublisherSubscriptionTimeout(t *testing.T) {
	settings := core.DefaultSettings()
	settings.SubscriptionTimeout = 20 * time.Millisecond
	ctx, wait := withMaterializer(t, core.WithSettings(settings))
	pub, err := flow.RunWith(ctx, flow.Range(0, 3), flow.AsPublisher[int]())
	require.NoError(t, err)

	wait()
	late := probe.NewSubscriber[int](t)
	pub.Subscribe(late)
	late.ExpectSubscription()
	var timeout *core.SubscriptionTimeoutError
	require.ErrorAs(t, late.ExpectError(), &timeout)
}
