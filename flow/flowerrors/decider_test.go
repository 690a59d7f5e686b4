package flowerrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/flow/flowerrors"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

// failEven is a Map stage failing on even elements, supervised by decider.
func failEven(decider core.Decider) flow.Flow[int, int, flow.NotUsed] {
	return transform.Map(func(v int) (int, error) {
		if v%2 == 0 {
			return 0, errBoom
		}
		return v, nil
	}).WithSupervision(decider)
}

func TestWithErrorCounter(t *testing.T) {
	decider, counter := flowerrors.WithErrorCounter(core.ResumingDecider, nil)
	got, err := collect(t, flow.Via(flow.Range(0, 10), failEven(decider)))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 5, 7, 9}, got)
	require.EqualValues(t, 5, counter.Count())
}

func TestWithErrorCounterPredicate(t *testing.T) {
	decider, counter := flowerrors.WithErrorCounter(core.ResumingDecider, func(err error) bool { return !errors.Is(err, errBoom) })
	_, err := collect(t, flow.Via(flow.Range(0, 10), failEven(decider)))
	require.NoError(t, err)
	require.Zero(t, counter.Count())
}

func TestWithErrorCollector(t *testing.T) {
	decider, collector := flowerrors.WithErrorCollector(core.ResumingDecider, flowerrors.WithMaxErrors(2))
	_, err := collect(t, flow.Via(flow.Range(0, 10), failEven(decider)))
	require.NoError(t, err)
	require.Equal(t, 2, collector.Count())
	for _, e := range collector.Errors() {
		require.Same(t, errBoom, e)
	}
}

func TestOnErrorDoStopsByDefault(t *testing.T) {
	var seen []error
	decider := flowerrors.OnErrorDo(nil, func(err error) { seen = append(seen, err) })
	got, err := collect(t, flow.Via(flow.Range(1, 10), failEven(decider)))
	require.Same(t, errBoom, err)
	require.Equal(t, []int{1}, got)
	require.Len(t, seen, 1)
}

func TestCircuitBreakerMonitor(t *testing.T) {
	var trips int
	decider, monitor := flowerrors.WithCircuitBreakerMonitor(3, func() { trips++ })
	got, err := collect(t, flow.Via(flow.Range(0, 10), failEven(decider)))
	require.Same(t, errBoom, err)
	require.Equal(t, []int{1, 3}, got)
	require.True(t, monitor.IsOpen())
	require.EqualValues(t, 3, monitor.FailureCount())
	require.Equal(t, 1, trips)

	monitor.Reset()
	require.False(t, monitor.IsOpen())
	require.Zero(t, monitor.FailureCount())
}

type recordingSink struct {
	messages []string
}

func (s *recordingSink) Publish(_ zapcore.Level, _, message string, _ error) {
	s.messages = append(s.messages, message)
}

func TestErrorSink(t *testing.T) {
	next := &recordingSink{}
	var tags []string
	sink := flowerrors.NewErrorSink(next, func(tag string, err error) {
		require.Same(t, errBoom, err)
		tags = append(tags, tag)
	})

	sink.Publish(zapcore.InfoLevel, "a", "element", nil)
	sink.Publish(zapcore.ErrorLevel, "b", "upstream failed", errBoom)
	require.EqualValues(t, 1, sink.Count())
	require.Equal(t, []string{"b"}, tags)
	require.Equal(t, []string{"element", "upstream failed"}, next.messages)

	sink.Matching(func(err error) bool { return false })
	sink.Publish(zapcore.ErrorLevel, "c", "upstream failed", errBoom)
	require.EqualValues(t, 1, sink.Count())
}
