package io

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// ReaderOption configures a CSV reader.
type ReaderOption func(*csv.Reader)

// WithComma sets the field delimiter (default is ',').
func WithComma(comma rune) ReaderOption {
	return func(r *csv.Reader) {
		r.Comma = comma
	}
}

// WithComment sets the comment character. Lines beginning with this
// character are ignored.
func WithComment(comment rune) ReaderOption {
	return func(r *csv.Reader) {
		r.Comment = comment
	}
}

// WithFieldsPerRecord sets the expected number of fields per record.
// If positive, each record must have exactly that many fields.
// If 0, the number is set to the first record's field count.
// If negative, no check is made and records may have variable fields.
func WithFieldsPerRecord(n int) ReaderOption {
	return func(r *csv.Reader) {
		r.FieldsPerRecord = n
	}
}

// WithLazyQuotes allows lazy quotes in quoted fields.
func WithLazyQuotes(lazy bool) ReaderOption {
	return func(r *csv.Reader) {
		r.LazyQuotes = lazy
	}
}

// WithTrimLeadingSpace trims leading whitespace from fields.
func WithTrimLeadingSpace(trim bool) ReaderOption {
	return func(r *csv.Reader) {
		r.TrimLeadingSpace = trim
	}
}

// ReadRecords creates a Source emitting each record of the CSV file at path.
func ReadRecords(path string, opts ...ReaderOption) core.Source[[]string, *core.Future[IOResult]] {
	return CSVSource(func() (io.ReadCloser, error) { return os.Open(path) }, opts...).Named("csvFileSource")
}

// ReadRecordsFrom creates a Source emitting each CSV record read from r.
// r is not closed.
func ReadRecordsFrom(r io.Reader, opts ...ReaderOption) core.Source[[]string, *core.Future[IOResult]] {
	return CSVSource(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, opts...)
}

// CSVSource creates a Source emitting the CSV records of the ReadCloser
// returned by open. A malformed record is a fault handed to the stage's
// decider; on Resume or Restart the record is skipped. The IOResult counts
// the bytes consumed by the parser.
func CSVSource(open func() (io.ReadCloser, error), opts ...ReaderOption) core.Source[[]string, *core.Future[IOResult]] {
	return core.SourceStage("csvSource", func(_ core.Attributes, out core.Outlet[[]string]) (*core.Logic, *core.Future[IOResult]) {
		l := core.NewSourceLogic(out)
		p := core.NewPromise[IOResult]()
		var (
			rc io.ReadCloser
			r  *csv.Reader
		)
		count := func() int64 {
			if r == nil {
				return 0
			}
			return r.InputOffset()
		}

		l.PreStart = func() {
			var err error
			if rc, err = open(); err != nil {
				p.Fail(&IncompleteError{Err: err})
				l.FailStage(err)
				return
			}
			r = csv.NewReader(rc)
			for _, opt := range opts {
				opt(r)
			}
		}
		l.PostStop = func() {
			if rc != nil {
				_ = rc.Close()
			}
			p.Fail(&IncompleteError{Count: count(), Err: l.AbortCause()})
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				for {
					record, err := r.Read()
					switch {
					case err == io.EOF:
						p.Success(IOResult{Count: count()})
						l.CompleteStage()
						return
					case err != nil:
						if !l.Supervise(err, nil) {
							p.Fail(&IncompleteError{Count: count(), Err: err})
							return
						}
					default:
						core.Push(l, out, record)
						return
					}
				}
			},
			OnDownstreamFinish: func(cause error) {
				p.Success(IOResult{Count: count()})
				l.CancelStage(cause)
			},
		})
		return l, p.Future()
	}).Async()
}

// WriterOption configures a CSV writer.
type WriterOption func(*csv.Writer)

// WithWriterComma sets the field delimiter for writing (default is ',').
func WithWriterComma(comma rune) WriterOption {
	return func(w *csv.Writer) {
		w.Comma = comma
	}
}

// WithUseCRLF sets whether to use \r\n as the line terminator.
func WithUseCRLF(useCRLF bool) WriterOption {
	return func(w *csv.Writer) {
		w.UseCRLF = useCRLF
	}
}

// WriteRecords creates a Sink writing every record to the CSV file at path,
// which is created or truncated.
func WriteRecords(path string, opts ...WriterOption) core.Sink[[]string, *core.Future[IOResult]] {
	open := func() (io.WriteCloser, error) {
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	}
	return CSVSink(open, opts...).Named("csvFileSink")
}

// WriteRecordsTo creates a Sink writing every record to w. w is flushed on
// completion but not closed.
func WriteRecordsTo(w io.Writer, opts ...WriterOption) core.Sink[[]string, *core.Future[IOResult]] {
	return CSVSink(func() (io.WriteCloser, error) { return nopCloser{w}, nil }, opts...)
}

// CSVSink creates a Sink encoding every record to the WriteCloser returned
// by open.
func CSVSink(open func() (io.WriteCloser, error), opts ...WriterOption) core.Sink[[]string, *core.Future[IOResult]] {
	return writerSink("csvSink", open, func(w *bufio.Writer, record []string) (int, error) {
		cnt := &countingWriter{w: w}
		cw := csv.NewWriter(cnt)
		for _, opt := range opts {
			opt(cw)
		}
		if err := cw.Write(record); err != nil {
			return cnt.n, err
		}
		cw.Flush()
		return cnt.n, cw.Error()
	})
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
