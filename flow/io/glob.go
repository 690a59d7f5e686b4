package io

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// FileInfo describes a file or directory emitted by Stat.
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	Mode    fs.FileMode
	IsDir   bool
	ModTime time.Time
}

// Match creates a Source emitting the paths matching a filepath.Glob
// pattern. A malformed pattern fails the stream.
func Match(pattern string) core.Source[string, core.NotUsed] {
	return pathSource("glob", func(yield func(string, error) bool) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			yield("", err)
			return
		}
		for _, m := range matches {
			if !yield(m, nil) {
				return
			}
		}
	})
}

// Walk creates a Source emitting every path under root, root included, in
// lexical order.
func Walk(root string) core.Source[string, core.NotUsed] {
	return walk("walk", root, func(fs.DirEntry) bool { return true })
}

// WalkFiles is Walk emitting regular files only.
func WalkFiles(root string) core.Source[string, core.NotUsed] {
	return walk("walkFiles", root, func(d fs.DirEntry) bool { return d.Type().IsRegular() })
}

// WalkDirs is Walk emitting directories only.
func WalkDirs(root string) core.Source[string, core.NotUsed] {
	return walk("walkDirs", root, fs.DirEntry.IsDir)
}

// ListDir creates a Source emitting the immediate children of dir.
func ListDir(dir string) core.Source[string, core.NotUsed] {
	return pathSource("listDir", func(yield func(string, error) bool) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			yield("", err)
			return
		}
		for _, e := range entries {
			if !yield(filepath.Join(dir, e.Name()), nil) {
				return
			}
		}
	})
}

func walk(name, root string, keep func(fs.DirEntry) bool) core.Source[string, core.NotUsed] {
	return pathSource(name, func(yield func(string, error) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(path, err) {
					return filepath.SkipAll
				}
				return nil
			}
			if keep(d) && !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	})
}

// pathSource drives seq lazily, one path per pull. An error from seq is a
// fault handed to the decider; on Resume or Restart the walk goes on.
func pathSource(name string, seq iter.Seq2[string, error]) core.Source[string, core.NotUsed] {
	return core.SourceStage(name, func(_ core.Attributes, out core.Outlet[string]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		var next func() (string, error, bool)
		stop := func() {}
		l.PreStart = func() { next, stop = iter.Pull2(seq) }
		l.PostStop = func() { stop() }
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				for {
					path, err, ok := next()
					switch {
					case !ok:
						l.CompleteStage()
						return
					case err != nil:
						if !l.Supervise(err, nil) {
							return
						}
					default:
						core.Push(l, out, path)
						return
					}
				}
			},
		})
		return l, core.NotUsed{}
	}).Async()
}

// Filter creates a Flow passing the paths whose base name matches pattern,
// using filepath.Match. A malformed pattern fails the stage on the first
// element.
func Filter(pattern string) core.Flow[string, string, core.NotUsed] {
	return core.FlowStage("globFilter", func(_ core.Attributes, in core.Inlet[string], out core.Outlet[string]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				path := core.Grab(l, in)
				matched, err := filepath.Match(pattern, filepath.Base(path))
				switch {
				case err != nil:
					l.FailStage(err)
				case matched:
					core.Push(l, out, path)
				default:
					l.Pull(in)
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Stat creates a Flow emitting the FileInfo of each path. A path that cannot
// be stat'ed is a fault handed to the decider.
func Stat() core.Flow[string, FileInfo, core.NotUsed] {
	return core.FlowStage("stat", func(_ core.Attributes, in core.Inlet[string], out core.Outlet[FileInfo]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				path := core.Grab(l, in)
				info, err := os.Stat(path)
				if err != nil {
					if l.Supervise(err, nil) {
						l.Pull(in)
					}
					return
				}
				core.Push(l, out, FileInfo{
					Path:    path,
					Name:    info.Name(),
					Size:    info.Size(),
					Mode:    info.Mode(),
					IsDir:   info.IsDir(),
					ModTime: info.ModTime(),
				})
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
