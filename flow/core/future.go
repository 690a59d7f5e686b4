package core

import (
	"context"
	"sync"
)

// Done is the value type of futures that only signal completion.
type Done struct{}

// NotUsed is the materialized value of stages that produce none.
type NotUsed struct{}

// Future is a read-only handle on a value produced asynchronously, typically a
// materialized value such as the result of a sink.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// Promise is the write side of a Future.
type Promise[T any] struct {
	f *Future[T]
}

// NewPromise creates an uncompleted promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{f: &Future[T]{done: make(chan struct{})}}
}

// Successful returns an already completed future.
func Successful[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Success(v)
	return p.Future()
}

// Failed returns an already failed future.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Fail(err)
	return p.Future()
}

// Future returns the read side.
func (p *Promise[T]) Future() *Future[T] {
	return p.f
}

// Success completes the promise with a value. It returns false if the promise
// was already completed.
func (p *Promise[T]) Success(v T) bool {
	return p.f.complete(v, nil)
}

// Fail completes the promise with an error.
func (p *Promise[T]) Fail(err error) bool {
	var zero T
	return p.f.complete(zero, err)
}

// Complete completes the promise with either outcome.
func (p *Promise[T]) Complete(v T, err error) bool {
	return p.f.complete(v, err)
}

// IsCompleted reports whether the promise has been completed.
func (p *Promise[T]) IsCompleted() bool {
	return p.f.IsCompleted()
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done returns a channel closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsCompleted reports whether the future is completed.
func (f *Future[T]) IsCompleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Value returns the outcome if the future is completed.
func (f *Future[T]) Value() (T, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.completed
}

// Get blocks until the future completes or ctx is done. The error is the
// original fault, never wrapped.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run with the outcome. If the future is already
// completed fn runs immediately on the calling goroutine, otherwise on the
// goroutine that completes it.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}
