package transform_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func run[IN, OUT any](t *testing.T, input []IN, f flow.Flow[IN, OUT, flow.NotUsed]) []OUT {
	t.Helper()
	got, err := flow.Slice(context.Background(), flow.Via(flow.FromSlice(input), f))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return got
}

func check[T any](t *testing.T, want, got T) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestPairwise(t *testing.T) {
	for input, want := range map[int][][2]int{
		0: {},
		1: {},
		2: {{0, 1}},
		4: {{0, 1}, {1, 2}, {2, 3}},
	} {
		in := make([]int, input)
		for i := range in {
			in[i] = i
		}
		check(t, want, run(t, in, transform.Pairwise[int]()))
	}
}

func TestPrefixAndSuffix(t *testing.T) {
	words := []string{"b", "c"}

	check(t, []string{"b", "c"}, run(t, words, transform.StartWith[string]()))
	check(t, []string{"a", "b", "c"}, run(t, words, transform.StartWith("a")))
	check(t, []string{"y", "z"}, run(t, nil, transform.StartWith("y", "z")))
	check(t, []string{"b", "c", "d", "e"}, run(t, words, transform.EndWith("d", "e")))
	check(t, []string{"end"}, run(t, nil, transform.EndWith("end")))
}

func TestDefaultIfEmpty(t *testing.T) {
	check(t, []int{-1}, run(t, nil, transform.DefaultIfEmpty(-1)))
	check(t, []int{5, 6}, run(t, []int{5, 6}, transform.DefaultIfEmpty(-1)))
}

func TestIntersperse(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		flow  flow.Flow[string, string, flow.NotUsed]
		want  []string
	}{
		{"separator", []string{"x", "y", "z"}, transform.Intersperse("|"), []string{"x", "|", "y", "|", "z"}},
		{"single element", []string{"x"}, transform.Intersperse("|"), []string{"x"}},
		{"brackets", []string{"x", "y"}, transform.IntersperseWith("(", " ", ")"), []string{"(", "x", " ", "y", ")"}},
		{"brackets around nothing", nil, transform.IntersperseWith("(", " ", ")"), []string{"(", ")"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check(t, tt.want, run(t, tt.input, tt.flow))
		})
	}
}

func TestDistinct(t *testing.T) {
	check(t, []int{3, 1, 2}, run(t, []int{3, 1, 3, 2, 1}, transform.Distinct[int]()))

	byLen := transform.DistinctBy(func(s string) int { return len(s) })
	check(t, []string{"go", "zig", "rust"}, run(t, []string{"go", "c#", "zig", "rust", "lua"}, byLen))
}

func TestZipWithIndex(t *testing.T) {
	want := []transform.Indexed[rune]{{0, 'x'}, {1, 'y'}}
	check(t, want, run(t, []rune("xy"), transform.ZipWithIndex[rune]()))
}

func TestIgnoreElements(t *testing.T) {
	check(t, []int{}, run(t, []int{1, 2, 3}, transform.IgnoreElements[int]()))

	errDisk := errors.New("disk full")
	_, err := flow.Slice(context.Background(), flow.Via(flow.Failed[int](errDisk), transform.IgnoreElements[int]()))
	if !errors.Is(err, errDisk) {
		t.Fatalf("err = %v, want %v", err, errDisk)
	}
}

func TestGrouped(t *testing.T) {
	input := []int{1, 2, 3, 4, 5}
	check(t, [][]int{{1, 2, 3, 4, 5}}, run(t, input, transform.Grouped[int](5)))
	check(t, [][]int{{1, 2}, {3, 4}, {5}}, run(t, input, transform.Grouped[int](2)))
	check(t, [][]int{}, run(t, nil, transform.Grouped[int](2)))
}

func TestSliding(t *testing.T) {
	tests := []struct {
		name    string
		input   []int
		n, step int
		want    [][]int
	}{
		{"overlapping", []int{1, 2, 3, 4}, 3, 1, [][]int{{1, 2, 3}, {2, 3, 4}}},
		{"tumbling", []int{1, 2, 3, 4}, 2, 2, [][]int{{1, 2}, {3, 4}}},
		{"partial tail", []int{1, 2, 3, 4}, 3, 2, [][]int{{1, 2, 3}, {3, 4}}},
		{"short stream", []int{9}, 4, 1, [][]int{{9}}},
		{"gaps", []int{1, 2, 3, 4, 5, 6}, 1, 4, [][]int{{1}, {5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check(t, tt.want, run(t, tt.input, transform.Sliding[int](tt.n, tt.step)))
		})
	}
}

func TestGroupedRejectsNonPositiveSize(t *testing.T) {
	defer func() {
		err, _ := recover().(error)
		var argErr *core.ArgumentError
		if !errors.As(err, &argErr) {
			t.Fatalf("recovered %v, want *core.ArgumentError", err)
		}
	}()
	transform.Grouped[int](0)
}
