package core

// OverflowStrategy decides what a bounded buffer does when an element
// arrives while it is full.
type OverflowStrategy int

const (
	// DropHead drops the oldest buffered element.
	DropHead OverflowStrategy = iota
	// DropTail drops the youngest buffered element.
	DropTail
	// DropBuffer drops every buffered element.
	DropBuffer
	// DropNew drops the arriving element.
	DropNew
	// Backpressure stops pulling until there is room again.
	Backpressure
	// Fail fails the stream with a BufferOverflowError.
	Fail
)

func (s OverflowStrategy) String() string {
	switch s {
	case DropHead:
		return "drop-head"
	case DropTail:
		return "drop-tail"
	case DropBuffer:
		return "drop-buffer"
	case DropNew:
		return "drop-new"
	case Backpressure:
		return "backpressure"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Buffer is a FIFO ring buffer with fixed capacity, shared by the buffering
// stages.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// NewBuffer creates a buffer holding at most capacity elements.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic(&ArgumentError{Arg: "capacity", Reason: "must be positive"})
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Len() int      { return b.size }
func (b *Buffer[T]) Cap() int      { return len(b.items) }
func (b *Buffer[T]) IsEmpty() bool { return b.size == 0 }
func (b *Buffer[T]) IsFull() bool  { return b.size == len(b.items) }

// Enqueue appends v. The buffer must not be full.
func (b *Buffer[T]) Enqueue(v T) {
	if b.IsFull() {
		panic(&BufferOverflowError{Size: len(b.items)})
	}
	b.items[(b.head+b.size)%len(b.items)] = v
	b.size++
}

// Dequeue removes the oldest element. The buffer must not be empty.
func (b *Buffer[T]) Dequeue() T {
	var zero T
	v := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return v
}

// Peek returns the oldest element without removing it.
func (b *Buffer[T]) Peek() T {
	return b.items[b.head]
}

// DropTail removes the youngest element.
func (b *Buffer[T]) DropTail() {
	var zero T
	b.size--
	b.items[(b.head+b.size)%len(b.items)] = zero
}

// Clear removes every element.
func (b *Buffer[T]) Clear() {
	clear(b.items)
	b.head = 0
	b.size = 0
}

// Offer applies strategy for v against a full or non-full buffer. It returns
// false when v was not buffered and the caller must hold on to it
// (Backpressure) or fail (Fail).
func (b *Buffer[T]) Offer(v T, strategy OverflowStrategy) bool {
	if !b.IsFull() {
		b.Enqueue(v)
		return true
	}
	switch strategy {
	case DropHead:
		b.Dequeue()
		b.Enqueue(v)
	case DropTail:
		b.DropTail()
		b.Enqueue(v)
	case DropBuffer:
		b.Clear()
		b.Enqueue(v)
	case DropNew:
	default:
		return false
	}
	return true
}
