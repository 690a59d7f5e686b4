// Package benchmarks compares reactive-flow against popular Go stream
// processing libraries.
package benchmarks

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/lguimbarda/reactive-flow/flow"
)

var sizes = []int{100, 1_000, 10_000}

func ints(n int) []int {
	data := make([]int, n)
	for i := range data {
		data[i] = i
	}
	return data
}

func strs(n int) []string {
	data := make([]string, n)
	for i := range data {
		data[i] = strconv.Itoa(i)
	}
	return data
}

func square(x int) int { return x * x }

func isEven(x int) bool { return x%2 == 0 }

func add(a, b int) int { return a + b }

// contender is one library's implementation of a benchmarked operation over
// a prepared input.
type contender struct {
	name string
	run  func(b *testing.B, data []int)
}

// compare runs every contender over every input size.
func compare(b *testing.B, contenders []contender) {
	for _, size := range sizes {
		data := ints(size)
		for _, c := range contenders {
			b.Run(fmt.Sprintf("%s/%d", c.name, size), func(b *testing.B) {
				b.ReportAllocs()
				c.run(b, data)
			})
		}
	}
}

// benchContext returns a context carrying a materializer shared by every
// iteration of b, so that only stream setup and execution are measured.
func benchContext(b *testing.B) context.Context {
	b.Helper()
	mat, err := flow.NewMaterializer(context.Background())
	if err != nil {
		b.Fatalf("materializer: %v", err)
	}
	b.Cleanup(func() {
		mat.Shutdown()
		mat.Wait()
	})
	return flow.WithMaterializer(context.Background(), mat)
}

// runFlow times materializations of the source built from data.
func runFlow[T any](build func([]int) flow.Source[T, flow.NotUsed]) func(*testing.B, []int) {
	return func(b *testing.B, data []int) {
		ctx := benchContext(b)
		src := build(data)
		b.ResetTimer()
		for range b.N {
			if _, err := flow.Slice(ctx, src); err != nil {
				b.Fatal(err)
			}
		}
	}
}
