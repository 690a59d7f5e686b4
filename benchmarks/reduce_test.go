package benchmarks

import (
	"testing"

	"github.com/ahmetb/go-linq/v3"
	"github.com/destel/rill"
	"github.com/samber/lo"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/aggregate"
)

func sum() flow.Flow[int, int, flow.NotUsed] {
	return aggregate.Reduce(func(a, b int) (int, error) { return add(a, b), nil })
}

func BenchmarkReduce(b *testing.B) {
	compare(b, []contender{
		{"flow", runFlow(func(data []int) flow.Source[int, flow.NotUsed] {
			return flow.Via(flow.FromSlice(data), sum())
		})},
		// The same reduction as a sink instead of an operator.
		{"flow-sink", func(b *testing.B, data []int) {
			ctx := benchContext(b)
			src := flow.FromSlice(data)
			fold := flow.Fold(0, func(acc, x int) (int, error) { return add(acc, x), nil })
			b.ResetTimer()
			for range b.N {
				f, err := flow.RunWith(ctx, src, fold)
				if err != nil {
					b.Fatal(err)
				}
				_, _ = f.Get(ctx)
			}
		}},
		{"rill", func(b *testing.B, data []int) {
			for range b.N {
				_, _, _ = rill.Reduce(rill.FromSlice(data, nil), 1, func(x, y int) (int, error) {
					return add(x, y), nil
				})
			}
		}},
		{"lo", func(b *testing.B, data []int) {
			for range b.N {
				_ = lo.Reduce(data, func(acc, x, _ int) int { return add(acc, x) }, 0)
			}
		}},
		{"linq", func(b *testing.B, data []int) {
			for range b.N {
				_ = linq.From(data).AggregateT(add)
			}
		}},
		{"loop", func(b *testing.B, data []int) {
			for range b.N {
				total := 0
				for _, x := range data {
					total = add(total, x)
				}
				_ = total
			}
		}},
	})
}
