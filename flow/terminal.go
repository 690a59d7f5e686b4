package flow

import (
	"context"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Terminal functions run a source into a sink and wait for the result. The
// error returned is the stream's original failure, never wrapped.

// Slice runs src and collects every element.
func Slice[T, M any](ctx context.Context, src Source[T, M]) ([]T, error) {
	return runAndWait(ctx, src, Seq[T]())
}

// First runs src until its first element. An empty stream fails with
// core.ErrNoSuchElement.
func First[T, M any](ctx context.Context, src Source[T, M]) (T, error) {
	return runAndWait(ctx, src, Head[T]())
}

// Run runs src for its side effects.
func Run[T, M any](ctx context.Context, src Source[T, M]) error {
	_, err := runAndWait(ctx, src, Ignore[T]())
	return err
}

func runAndWait[T, M, R any](ctx context.Context, src Source[T, M], sink Sink[T, *Future[R]]) (R, error) {
	var zero R

	// Cancelling ends the run when the caller stops waiting.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, ok := core.MaterializerFrom(ctx)
	if !ok {
		var err error
		if m, err = core.NewMaterializer(ctx); err != nil {
			return zero, err
		}
		defer func() {
			m.Shutdown()
			m.Wait()
		}()
	}
	f, err := core.Run(core.To(src, sink, core.KeepRight[M, *Future[R]]), m)
	if err != nil {
		return zero, err
	}
	return f.Get(ctx)
}
