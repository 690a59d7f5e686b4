package io

import (
	"bytes"
	"io"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Lines creates a Flow splitting byte chunks into lines on '\n'. A trailing
// '\r' is removed from each line and a final unterminated line is emitted on
// completion. A line longer than maxLineLength fails the stage with a
// *FramingError.
func Lines(maxLineLength int) core.Flow[[]byte, string, core.NotUsed] {
	if maxLineLength < 1 {
		panic(&core.ArgumentError{Arg: "maxLineLength", Reason: "must be positive"})
	}
	return core.FlowStage("lines", func(_ core.Attributes, in core.Inlet[[]byte], out core.Outlet[string]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var buf []byte

		tooLong := func(n int) bool {
			if n <= maxLineLength {
				return false
			}
			l.FailStage(&FramingError{MaxLineLength: maxLineLength})
			return true
		}

		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				buf = append(buf, core.Grab(l, in)...)
				var lines []string
				for {
					i := bytes.IndexByte(buf, '\n')
					if i < 0 {
						break
					}
					line := bytes.TrimSuffix(buf[:i], []byte{'\r'})
					if tooLong(len(line)) {
						return
					}
					lines = append(lines, string(line))
					buf = buf[i+1:]
				}
				if tooLong(len(buf)) {
					return
				}
				buf = bytes.Clone(buf)
				if len(lines) == 0 {
					l.Pull(in)
					return
				}
				core.EmitMultiple(l, out, lines)
			},
			OnUpstreamFinish: func() {
				if len(buf) > 0 {
					core.Emit(l, out, string(bytes.TrimSuffix(buf, []byte{'\r'})))
				}
				l.CompleteStage()
			},
		}, core.OutHandler{
			OnPull: func() {
				if !l.HasBeenPulled(in) && !l.IsClosed(in) {
					l.Pull(in)
				}
			},
		})
		return l
	})
}

// ReadLines creates a Source emitting the lines of the file at path.
func ReadLines(path string) core.Source[string, *core.Future[IOResult]] {
	return core.Via(FileSource(path, DefaultChunkSize), Lines(DefaultMaxLineLength), core.KeepLeft[*core.Future[IOResult], core.NotUsed])
}

// ReadLinesFrom creates a Source emitting the lines read from r. r is not
// closed.
func ReadLinesFrom(r io.Reader) core.Source[string, *core.Future[IOResult]] {
	open := func() (io.ReadCloser, error) { return io.NopCloser(r), nil }
	return core.Via(FromReader(open, DefaultChunkSize), Lines(DefaultMaxLineLength), core.KeepLeft[*core.Future[IOResult], core.NotUsed])
}
