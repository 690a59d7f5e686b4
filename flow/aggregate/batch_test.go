package aggregate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/aggregate"
)

func seedSlice(v int) ([]int, error)             { return []int{v}, nil }
func appendSlice(acc []int, v int) ([]int, error) { return append(acc, v), nil }

// slowSeq collects the stream on its own island, sleeping per element so that
// the stage under test sees backpressure.
func slowSeq[T any](t *testing.T, src flow.Source[T, flow.NotUsed]) []T {
	t.Helper()
	m, err := flow.NewMaterializer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		m.Shutdown()
		m.Wait()
	}()
	ctx := flow.WithMaterializer(context.Background(), m)

	var got []T
	done, err := flow.RunWith(ctx, src.Async(), flow.ForEach(func(v T) error {
		time.Sleep(time.Millisecond)
		got = append(got, v)
		return nil
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := done.Get(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return got
}

func TestBatchPreservesOrder(t *testing.T) {
	input := make([]int, 200)
	for i := range input {
		input[i] = i
	}
	const max = 8

	for _, async := range []bool{false, true} {
		src := flow.Via(flow.FromSlice(input), aggregate.Batch(max, seedSlice, appendSlice))
		var batches [][]int
		if async {
			batches = slowSeq(t, src)
		} else {
			batches = run(t, input, aggregate.Batch(max, seedSlice, appendSlice))
		}

		var flat []int
		for _, b := range batches {
			if len(b) == 0 || len(b) > max {
				t.Fatalf("async=%v: batch of %d elements, want between 1 and %d", async, len(b), max)
			}
			flat = append(flat, b...)
		}
		if diff := cmp.Diff(input, flat); diff != "" {
			t.Errorf("async=%v: flattened batches mismatch (-want +got):\n%s", async, diff)
		}
	}
}

func TestBatchWeightedHoldsBackOverweightElement(t *testing.T) {
	cost := func(v int) int64 { return int64(v) }
	batches := slowSeq(t, flow.Via(flow.FromSlice([]int{3, 3, 3, 10, 1}),
		aggregate.BatchWeighted(6, cost, seedSlice, appendSlice)))

	var flat []int
	for _, b := range batches {
		var w int64
		for _, v := range b {
			w += cost(v)
		}
		if len(b) > 1 && w > 6 {
			t.Errorf("batch %v weighs %d, more than 6", b, w)
		}
		flat = append(flat, b...)
	}
	if diff := cmp.Diff([]int{3, 3, 3, 10, 1}, flat); diff != "" {
		t.Errorf("flattened batches mismatch (-want +got):\n%s", diff)
	}
}

func TestConflate(t *testing.T) {
	input := make([]int, 100)
	for i := range input {
		input[i] = i + 1
	}
	sums := slowSeq(t, flow.Via(flow.FromSlice(input), aggregate.Conflate(add)))

	total := 0
	for _, s := range sums {
		total += s
	}
	if total != 5050 {
		t.Errorf("conflated sums add up to %d, want 5050", total)
	}
	if len(sums) == 0 || len(sums) > len(input) {
		t.Errorf("got %d summaries", len(sums))
	}
}

func TestGroupedWeighted(t *testing.T) {
	got := run(t, []string{"a", "bb", "ccc", "d", "ee"},
		aggregate.GroupedWeighted(3, func(s string) int64 { return int64(len(s)) }))
	want := [][]string{{"a", "bb"}, {"ccc"}, {"d", "ee"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GroupedWeighted() mismatch (-want +got):\n%s", diff)
	}
}

func TestPartition(t *testing.T) {
	got := run(t, []int{1, 2, 3, 4, 5}, aggregate.Partition(func(v int) bool { return v%2 == 0 }))
	want := [][2][]int{{{2, 4}, {1, 3, 5}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Partition() mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupBy(t *testing.T) {
	got := run(t, []string{"apple", "avocado", "banana", "cherry", "blueberry"},
		aggregate.GroupBy(func(s string) byte { return s[0] }))
	if len(got) != 1 {
		t.Fatalf("got %d emissions, want 1", len(got))
	}
	want := map[byte][]string{
		'a': {"apple", "avocado"},
		'b': {"banana", "blueberry"},
		'c': {"cherry"},
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("GroupBy() mismatch (-want +got):\n%s", diff)
	}
}
