package flow_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	"github.com/lguimbarda/reactive-flow/flow/filter"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

// testContext bounds a test; terminal functions create their own
// materializer under it.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// withMaterializer returns a context carrying a dedicated materializer and a
// function waiting until every stage it ran has stopped.
func withMaterializer(t *testing.T, opts ...core.MaterializerOption) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	mat, err := flow.NewMaterializer(ctx, opts...)
	if err != nil {
		cancel()
		t.Fatalf("creating materializer: %v", err)
	}
	t.Cleanup(func() {
		mat.Shutdown()
		mat.Wait()
		cancel()
	})
	return flow.WithMaterializer(ctx, mat), mat.Wait
}

func double() flow.Flow[int, int, flow.NotUsed] {
	return transform.Map(func(x int) (int, error) { return x * 2, nil })
}

func addOne() flow.Flow[int, int, flow.NotUsed] {
	return transform.Map(func(x int) (int, error) { return x + 1, nil })
}

func named[S core.Shape](g flow.Graph[S, flow.NotUsed], name string) flow.Graph[S, string] {
	return flow.MapMaterializedValue(g, func(flow.NotUsed) string { return name })
}

func TestVia(t *testing.T) {
	got, err := flow.Slice(testContext(t), flow.Via(flow.Via(flow.Range(1, 4), double()), addOne()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (1*2)+1=3, (2*2)+1=5, (3*2)+1=7
	if diff := cmp.Diff([]int{3, 5, 7}, got); diff != "" {
		t.Errorf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestViaMat(t *testing.T) {
	src := named(flow.Range(0, 3), "src")
	f := named(double(), "flow")

	tests := []struct {
		name    string
		combine func(string, string) string
		want    string
	}{
		{"keep left", flow.KeepLeft[string, string], "src"},
		{"keep right", flow.KeepRight[string, string], "flow"},
		{"custom", func(l, r string) string { return l + "+" + r }, "src+flow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := withMaterializer(t)
			g := flow.ToMat(flow.ViaMat(src, f, tt.combine), flow.Seq[int](), flow.KeepBoth[string, *flow.Future[[]int]])
			res, err := flow.Materialize(ctx, g)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Left != tt.want {
				t.Errorf("materialized %q, want %q", res.Left, tt.want)
			}
			got, err := res.Right.Get(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff([]int{0, 2, 4}, got); diff != "" {
				t.Errorf("unexpected elements (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToAndToMat(t *testing.T) {
	ctx, _ := withMaterializer(t)
	src := named(flow.Range(0, 5), "src")

	m, err := flow.Materialize(ctx, flow.To(src, flow.Ignore[int]()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != "src" {
		t.Errorf("To kept %q, want the source's value", m)
	}

	count, err := flow.Materialize(ctx, flow.ToMat(src, flow.Count[int](), flow.KeepRight[string, *flow.Future[int]]))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := count.Get(ctx)
	if err != nil || n != 5 {
		t.Fatalf("Count: got %d, %v", n, err)
	}

	none, err := flow.Materialize(ctx, flow.ToMat(src, flow.Ignore[int](), flow.KeepNone[string, *flow.Future[flow.Done]]))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != (flow.NotUsed{}) {
		t.Errorf("KeepNone: got %v", none)
	}
}

func TestThrough(t *testing.T) {
	ctx, _ := withMaterializer(t)

	combined := flow.Through(named(double(), "double"), addOne())
	got, err := flow.Slice(ctx, flow.Via(flow.Range(1, 4), combined))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{3, 5, 7}, got); diff != "" {
		t.Errorf("unexpected elements (-want +got):\n%s", diff)
	}

	both := flow.ThroughMat(named(double(), "double"), named(addOne(), "addOne"), flow.KeepBoth[string, string])
	m, err := flow.Materialize(ctx, flow.ToMat(flow.ViaMat(flow.Range(1, 2), both, flow.KeepRight[flow.NotUsed, flow.Pair[string, string]]),
		flow.Ignore[int](), flow.KeepLeft[flow.Pair[string, string], *flow.Future[flow.Done]]))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Left != "double" || m.Right != "addOne" {
		t.Errorf("ThroughMat kept %+v", m)
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name     string
		flows    []flow.Flow[int, int, flow.NotUsed]
		input    []int
		expected []int
	}{
		{
			name:     "empty chain (identity)",
			flows:    nil,
			input:    []int{1, 2, 3},
			expected: []int{1, 2, 3},
		},
		{
			name:     "single flow",
			flows:    []flow.Flow[int, int, flow.NotUsed]{double()},
			input:    []int{1, 2, 3},
			expected: []int{2, 4, 6},
		},
		{
			name:     "applied in order",
			flows:    []flow.Flow[int, int, flow.NotUsed]{addOne(), double(), addOne()},
			input:    []int{1, 2, 3},
			expected: []int{5, 7, 9},
		},
		{
			name:     "with a filter",
			flows:    []flow.Flow[int, int, flow.NotUsed]{double(), filter.Filter(func(v int) bool { return v > 2 })},
			input:    []int{1, 2, 3},
			expected: []int{4, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			got, err := flow.Slice(ctx, flow.Via(flow.FromSlice(tt.input), flow.Chain(tt.flows...)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Chain (-want +got):\n%s", diff)
			}

			piped, err := flow.Slice(ctx, flow.Pipe(flow.FromSlice(tt.input), tt.flows...))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, piped); diff != "" {
				t.Errorf("Pipe (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	got, err := flow.Slice(testContext(t), flow.Via(flow.FromSlice([]string{"a", "b"}), flow.Identity[string]()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestFlowTo(t *testing.T) {
	ctx, _ := withMaterializer(t)

	stringify := transform.Map(func(v int) (string, error) { return strconv.Itoa(v), nil })
	sink := flow.FlowToMat(stringify, flow.Seq[string](), flow.KeepRight[flow.NotUsed, *flow.Future[[]string]])
	res, err := flow.RunWith(ctx, flow.Range(1, 4), sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := res.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, got); diff != "" {
		t.Errorf("unexpected elements (-want +got):\n%s", diff)
	}

	m, err := flow.RunWith(ctx, flow.Range(1, 4), flow.FlowTo(named(stringify, "stringify"), flow.Ignore[string]()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != "stringify" {
		t.Errorf("FlowTo kept %q, want the flow's value", m)
	}
}

func TestMapMaterializedValue(t *testing.T) {
	ctx, _ := withMaterializer(t)

	sink := flow.MapMaterializedValue(flow.Count[int](), func(f *flow.Future[int]) *flow.Future[string] {
		p := core.NewPromise[string]()
		f.OnComplete(func(n int, err error) { p.Complete(strconv.Itoa(n)+" elements", err) })
		return p.Future()
	})
	f, err := flow.RunWith(ctx, flow.Range(0, 7), sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := f.Get(ctx)
	if err != nil || got != "7 elements" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestTerminalsReturnOriginalError(t *testing.T) {
	failing := flow.Via(flow.Range(0, 10), transform.Map(func(v int) (int, error) {
		if v == 3 {
			return 0, errBoom
		}
		return v, nil
	}))
	ctx := testContext(t)

	if _, err := flow.Slice(ctx, failing); err != errBoom {
		t.Errorf("Slice: expected the original error, got %v", err)
	}
	if err := flow.Run(ctx, failing); err != errBoom {
		t.Errorf("Run: expected the original error, got %v", err)
	}
	if v, err := flow.First(ctx, failing); err != nil || v != 0 {
		t.Errorf("First: got %d, %v", v, err)
	}
	if _, err := flow.First(ctx, flow.Empty[int]()); !errors.Is(err, core.ErrNoSuchElement) {
		t.Errorf("First on empty: expected %v, got %v", core.ErrNoSuchElement, err)
	}
}

func TestTerminalReusesMaterializer(t *testing.T) {
	ctx, wait := withMaterializer(t)
	mat, ok := core.MaterializerFrom(ctx)
	if !ok {
		t.Fatal("expected a materializer in the context")
	}

	if _, err := flow.Slice(ctx, flow.Range(0, 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wait()
	if mat.IsShutdown() {
		t.Fatal("a terminal function must not shut down the caller's materializer")
	}
}

func TestShutdownAbortsRunningStreams(t *testing.T) {
	ctx, wait := withMaterializer(t)
	mat, _ := core.MaterializerFrom(ctx)

	f, err := flow.RunWith(ctx, flow.Never[int](), flow.Seq[int]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mat.Shutdown()
	wait()

	_, err = f.Get(ctx)
	var abrupt *core.AbruptTerminationError
	if !errors.As(err, &abrupt) {
		t.Fatalf("expected AbruptTerminationError, got %v", err)
	}

	if _, err := flow.RunWith(ctx, flow.Single(1), flow.Seq[int]()); !errors.Is(err, core.ErrMaterializerClosed) {
		t.Fatalf("expected %v after shutdown, got %v", core.ErrMaterializerClosed, err)
	}
}
