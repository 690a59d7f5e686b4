// Package io provides stream adapters for files, byte streams and the
// outside world: chunked readers, buffered writers, newline framing, CSV
// records, filesystem walks and HTTP bodies. Blocking stages run on their
// own async island.
package io

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// DefaultChunkSize is the chunk size of FileSource and ReadLines.
const DefaultChunkSize = 8192

// DefaultMaxLineLength bounds the lines framed by ReadLines and
// ReadLinesFrom.
const DefaultMaxLineLength = 1 << 20

// IOResult is the materialized value of reading and writing stages: the
// number of bytes transferred.
type IOResult struct {
	Count int64
}

// IncompleteError fails the IOResult future of a stage that stopped before
// finishing its transfer.
type IncompleteError struct {
	Count int64
	Err   error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("io operation incomplete after %d bytes: %v", e.Count, e.Err)
}

func (e *IncompleteError) Unwrap() error { return e.Err }

// FramingError fails a Lines stage meeting a line longer than its limit.
type FramingError struct {
	MaxLineLength int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("line exceeds the maximum length of %d bytes", e.MaxLineLength)
}

// FileSource creates a Source emitting the contents of the file at path in
// chunks of at most chunkSize bytes.
func FileSource(path string, chunkSize int) core.Source[[]byte, *core.Future[IOResult]] {
	return FromReader(func() (io.ReadCloser, error) { return os.Open(path) }, chunkSize).Named("fileSource")
}

// FromReader creates a Source reading the ReadCloser returned by open in
// chunks of at most chunkSize bytes. open runs when the stage starts; the
// reader is closed when it stops. Downstream cancellation completes the
// IOResult with the bytes read so far.
func FromReader(open func() (io.ReadCloser, error), chunkSize int) core.Source[[]byte, *core.Future[IOResult]] {
	return readerSource("readerSource", func(context.Context) (io.ReadCloser, error) { return open() }, chunkSize)
}

// readerSource is FromReader with an opener bound to the stage context,
// which is cancelled when the stage stops.
func readerSource(name string, open func(context.Context) (io.ReadCloser, error), chunkSize int) core.Source[[]byte, *core.Future[IOResult]] {
	if chunkSize < 1 {
		panic(&core.ArgumentError{Arg: "chunkSize", Reason: "must be positive"})
	}
	return core.SourceStage(name, func(_ core.Attributes, out core.Outlet[[]byte]) (*core.Logic, *core.Future[IOResult]) {
		l := core.NewSourceLogic(out)
		p := core.NewPromise[IOResult]()
		var (
			r     io.ReadCloser
			count int64
		)
		buf := make([]byte, chunkSize)

		fail := func(err error) {
			p.Fail(&IncompleteError{Count: count, Err: err})
			l.FailStage(err)
		}

		l.PreStart = func() {
			var err error
			if r, err = open(l.Context()); err != nil {
				fail(err)
			}
		}
		l.PostStop = func() {
			if r != nil {
				_ = r.Close()
			}
			p.Fail(&IncompleteError{Count: count, Err: l.AbortCause()})
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				for {
					n, err := r.Read(buf)
					if n > 0 {
						count += int64(n)
						core.Push(l, out, bytes.Clone(buf[:n]))
					}
					switch {
					case err == io.EOF:
						p.Success(IOResult{Count: count})
						l.CompleteStage()
						return
					case err != nil:
						fail(err)
						return
					case n > 0:
						return
					}
				}
			},
			OnDownstreamFinish: func(cause error) {
				p.Success(IOResult{Count: count})
				l.CancelStage(cause)
			},
		})
		return l, p.Future()
	}).Async()
}

// FileSink creates a Sink writing every chunk to the file at path, which is
// created or truncated.
func FileSink(path string) core.Sink[[]byte, *core.Future[IOResult]] {
	return FileSinkWithOptions(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// FileSinkWithOptions is FileSink with explicit os.OpenFile flags, e.g.
// os.O_APPEND to append to an existing file.
func FileSinkWithOptions(path string, flag int, perm os.FileMode) core.Sink[[]byte, *core.Future[IOResult]] {
	return ToWriter(func() (io.WriteCloser, error) { return os.OpenFile(path, flag, perm) }).Named("fileSink")
}

// ToWriter creates a Sink writing every chunk to the WriteCloser returned by
// open, through a buffer flushed on completion. The writer is closed when
// the stage stops.
func ToWriter(open func() (io.WriteCloser, error)) core.Sink[[]byte, *core.Future[IOResult]] {
	return writerSink("writerSink", open, func(w *bufio.Writer, chunk []byte) (int, error) {
		return w.Write(chunk)
	})
}

// WriteLines creates a Sink writing every string to the file at path
// followed by a newline. The file is created or truncated.
func WriteLines(path string) core.Sink[string, *core.Future[IOResult]] {
	return WriteLinesWithOptions(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// AppendLines is WriteLines appending to the file.
func AppendLines(path string) core.Sink[string, *core.Future[IOResult]] {
	return WriteLinesWithOptions(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// WriteLinesWithOptions is WriteLines with explicit os.OpenFile flags.
func WriteLinesWithOptions(path string, flag int, perm os.FileMode) core.Sink[string, *core.Future[IOResult]] {
	open := func() (io.WriteCloser, error) { return os.OpenFile(path, flag, perm) }
	return writerSink("lineSink", open, writeLine)
}

// WriteTo creates a Sink writing every string to w followed by a newline.
// w is flushed on completion but not closed.
func WriteTo(w io.Writer) core.Sink[string, *core.Future[IOResult]] {
	open := func() (io.WriteCloser, error) { return nopCloser{w}, nil }
	return writerSink("writeTo", open, writeLine)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeLine(w *bufio.Writer, line string) (int, error) {
	n, err := w.WriteString(line)
	if err != nil {
		return n, err
	}
	if err := w.WriteByte('\n'); err != nil {
		return n, err
	}
	return n + 1, nil
}

func writerSink[T any](name string, open func() (io.WriteCloser, error), write func(*bufio.Writer, T) (int, error)) core.Sink[T, *core.Future[IOResult]] {
	return core.SinkStage(name, func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, *core.Future[IOResult]) {
		l := core.NewSinkLogic(in)
		p := core.NewPromise[IOResult]()
		var (
			w      io.WriteCloser
			bw     *bufio.Writer
			count  int64
			closed bool
		)

		closeWriter := func() error {
			if w == nil || closed {
				return nil
			}
			closed = true
			return w.Close()
		}
		stop := func(err error) {
			p.Fail(&IncompleteError{Count: count, Err: err})
			l.CancelStage(err)
		}

		l.PreStart = func() {
			var err error
			if w, err = open(); err != nil {
				stop(err)
				return
			}
			bw = bufio.NewWriter(w)
			l.Pull(in)
		}
		l.PostStop = func() {
			_ = closeWriter()
			p.Fail(&IncompleteError{Count: count, Err: l.AbortCause()})
		}
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				n, err := write(bw, core.Grab(l, in))
				count += int64(n)
				if err != nil {
					stop(err)
					return
				}
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				err := bw.Flush()
				if cerr := closeWriter(); err == nil {
					err = cerr
				}
				if err != nil {
					p.Fail(&IncompleteError{Count: count, Err: err})
				} else {
					p.Success(IOResult{Count: count})
				}
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				_ = bw.Flush()
				p.Fail(&IncompleteError{Count: count, Err: err})
				l.FailStage(err)
			},
		})
		return l, p.Future()
	}).Async()
}
