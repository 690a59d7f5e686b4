package flow_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/flow/filter"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

// Integration: cancellation from downstream should stop an infinite upstream
// on another island.
func TestIntegrationCancellationStopsPipeline(t *testing.T) {
	ctx, wait := withMaterializer(t)

	var produced atomic.Int64
	src := flow.Via(countingSource(&produced).Async(), transform.Map(func(v int64) (int64, error) { return v * 2, nil }))
	got, err := flow.Slice(ctx, flow.Via(src, filter.Take[int64](20)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 20 || got[19] != 38 {
		t.Fatalf("unexpected elements: %v", got)
	}

	wait()
	if n := produced.Load(); n > 200 {
		t.Fatalf("expected early stop, produced %d items", n)
	}
}

// Integration: a panic in a mapper becomes the stream's failure.
func TestIntegrationPanicRecoveryInMapper(t *testing.T) {
	mapper := transform.Map(func(n int) (int, error) {
		if n == 1 {
			panic("boom")
		}
		return n, nil
	})

	_, err := flow.Slice(testContext(t), flow.Via(flow.FromSlice([]int{0, 1, 2}), mapper))
	var p core.ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("expected a panic error, got %v", err)
	}
	if p.Value != "boom" {
		t.Fatalf("unexpected panic value %v", p.Value)
	}
}

// Integration: a failure on one island reaches the sink on another.
func TestIntegrationFailureCrossesBoundary(t *testing.T) {
	ctx, _ := withMaterializer(t)

	failing := flow.Via(flow.Range(0, 10), transform.Map(func(v int) (int, error) {
		if v == 5 {
			return 0, errBoom
		}
		return v, nil
	})).Async()

	var seen []int
	done, err := flow.RunWith(ctx, failing, flow.ForEach(func(v int) error {
		seen = append(seen, v)
		return nil
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := done.Get(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("expected %v, got %v", errBoom, err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, seen); diff != "" {
		t.Errorf("unexpected elements (-want +got):\n%s", diff)
	}
}

func rejectOdd() flow.Flow[int, int, flow.NotUsed] {
	return transform.Map(func(v int) (int, error) {
		if v%2 != 0 {
			return 0, errBoom
		}
		return v, nil
	})
}

func rejectThrees() flow.Flow[int, int, flow.NotUsed] {
	return transform.Map(func(v int) (int, error) {
		if v%3 == 0 {
			return 0, errBoom
		}
		return v, nil
	})
}

// Integration: a decider set on a composite applies to every stage inside it
// that does not set its own.
func TestIntegrationSupervisionInheritance(t *testing.T) {
	tests := []struct {
		name     string
		build    func() flow.Flow[int, int, flow.NotUsed]
		opts     []core.MaterializerOption
		expected []int
		wantErr  error
	}{
		{
			name:    "no decider stops",
			build:   func() flow.Flow[int, int, flow.NotUsed] { return flow.Chain(rejectOdd(), rejectThrees()) },
			wantErr: errBoom,
		},
		{
			name: "composite decider reaches inner stages",
			build: func() flow.Flow[int, int, flow.NotUsed] {
				return flow.Chain(rejectOdd(), rejectThrees()).WithSupervision(core.ResumingDecider)
			},
			expected: []int{2, 4, 8},
		},
		{
			name: "inner decider wins",
			build: func() flow.Flow[int, int, flow.NotUsed] {
				inner := rejectThrees().WithSupervision(core.StoppingDecider)
				return flow.Chain(rejectOdd(), inner).WithSupervision(core.ResumingDecider)
			},
			wantErr: errBoom,
		},
		{
			name:     "materializer default",
			build:    func() flow.Flow[int, int, flow.NotUsed] { return flow.Chain(rejectOdd(), rejectThrees()) },
			opts:     []core.MaterializerOption{core.WithDefaultDecider(core.ResumingDecider)},
			expected: []int{2, 4, 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := withMaterializer(t, tt.opts...)
			got, err := flow.Slice(ctx, flow.Via(flow.Range(1, 10), tt.build()))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("unexpected elements (-want +got):\n%s", diff)
			}
		})
	}
}

// Integration: the same blueprint materialized concurrently keeps separate
// stage state per run.
func TestIntegrationConcurrentMaterializations(t *testing.T) {
	ctx, _ := withMaterializer(t)
	indexed := flow.Via(flow.Range(0, 100).Async(), transform.ZipWithIndex[int]())
	sum := flow.Fold(int64(0), func(acc int64, v transform.Indexed[int]) (int64, error) {
		if int64(v.Value) != v.Index {
			return 0, errors.New("index out of step")
		}
		return acc + v.Index, nil
	})

	futures := make([]*flow.Future[int64], 8)
	for i := range futures {
		f, err := flow.RunWith(ctx, indexed, sum)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		futures[i] = f
	}
	for i, f := range futures {
		got, err := f.Get(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got != 4950 {
			t.Fatalf("run %d: got %d, want 4950", i, got)
		}
	}
}
