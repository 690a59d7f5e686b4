package observe

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// StreamMetrics holds statistics about one run of a metered stream.
type StreamMetrics struct {
	Elements int64
	// Err is the failure or cancellation cause the stage stopped with, nil
	// on completion.
	Err error

	StartTime        time.Time
	EndTime          time.Time
	FirstElementTime time.Time
	LastElementTime  time.Time

	ElementsPerSecond float64

	// Latency between consecutive elements.
	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration
}

// Meter creates a Flow collecting metrics about each run. onComplete is
// called with the final metrics when the stage stops.
func Meter[T any](onComplete func(StreamMetrics)) core.Flow[T, T, core.NotUsed] {
	return tapStage("meter", func() Hooks[T] {
		var (
			m            StreamMetrics
			totalLatency time.Duration
		)
		return Hooks[T]{
			OnStart: func() {
				m.StartTime = time.Now()
				m.MinLatency = time.Duration(math.MaxInt64)
			},
			OnElement: func(T) {
				now := time.Now()
				m.Elements++
				if m.Elements == 1 {
					m.FirstElementTime = now
				} else {
					latency := now.Sub(m.LastElementTime)
					m.MinLatency = min(m.MinLatency, latency)
					m.MaxLatency = max(m.MaxLatency, latency)
					totalLatency += latency
				}
				m.LastElementTime = now
			},
			OnFailure: func(err error) { m.Err = err },
			OnCancel:  func(cause error) { m.Err = cause },
			OnStop: func() {
				m.EndTime = time.Now()
				if m.Elements < 2 {
					m.MinLatency = 0
				} else {
					m.AvgLatency = totalLatency / time.Duration(m.Elements-1)
				}
				if d := m.EndTime.Sub(m.StartTime).Seconds(); d > 0 {
					m.ElementsPerSecond = float64(m.Elements) / d
				}
				if onComplete != nil {
					onComplete(m)
				}
			},
		}
	})
}

// LiveMetrics is updated by MeterLive while streams run and may be read
// at any time. Times are kept as Unix nanoseconds, zero meaning unset.
type LiveMetrics struct {
	elements, failures atomic.Int64
	started, lastSeen  atomic.Int64
}

func (m *LiveMetrics) Elements() int64 { return m.elements.Load() }

// Failures counts the runs that ended in failure.
func (m *LiveMetrics) Failures() int64 { return m.failures.Load() }

// StartTime is when the first run started.
func (m *LiveMetrics) StartTime() time.Time { return fromNanos(m.started.Load()) }

func (m *LiveMetrics) LastItemTime() time.Time { return fromNanos(m.lastSeen.Load()) }

// Duration spans from the first start to the latest element.
func (m *LiveMetrics) Duration() time.Duration {
	start, last := m.started.Load(), m.lastSeen.Load()
	if start == 0 || last < start {
		return 0
	}
	return time.Duration(last - start)
}

func (m *LiveMetrics) ItemsPerSecond() float64 {
	if d := m.Duration(); d > 0 {
		return float64(m.Elements()) / d.Seconds()
	}
	return 0
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// MeterLive creates a Flow updating metrics as elements pass. The same
// LiveMetrics may be shared by several materializations.
func MeterLive[T any](metrics *LiveMetrics) core.Flow[T, T, core.NotUsed] {
	return Tap(Hooks[T]{
		OnStart: func() {
			metrics.started.CompareAndSwap(0, time.Now().UnixNano())
		},
		OnElement: func(T) {
			metrics.elements.Add(1)
			metrics.lastSeen.Store(time.Now().UnixNano())
		},
		OnFailure: func(error) { metrics.failures.Add(1) },
	})
}

// ProgressReport is one progress notification. Total and Remaining are -1
// when unknown; Remaining is extrapolated from the rate so far.
type ProgressReport struct {
	Processed, Total   int64
	Percent            float64
	Elapsed, Remaining time.Duration
}

// Progress creates a Flow reporting progress to onProgress at most once per
// interval as elements arrive, and once more when the stage stops. Pass -1
// as total when it is unknown. A zero interval reports only at the end.
func Progress[T any](total int64, interval time.Duration, onProgress func(ProgressReport)) core.Flow[T, T, core.NotUsed] {
	return tapStage("progress", func() Hooks[T] {
		var (
			processed  int64
			start      time.Time
			lastReport time.Time
		)
		report := func() {
			elapsed := time.Since(start)
			r := ProgressReport{Processed: processed, Total: total, Elapsed: elapsed, Remaining: -1}
			if total > 0 {
				r.Percent = float64(processed) / float64(total) * 100
				if processed > 0 && elapsed > 0 {
					rate := float64(processed) / elapsed.Seconds()
					r.Remaining = time.Duration(float64(total-processed) / rate * float64(time.Second))
				}
			}
			onProgress(r)
		}
		return Hooks[T]{
			OnStart: func() {
				start = time.Now()
				lastReport = start
			},
			OnElement: func(T) {
				processed++
				if interval > 0 && time.Since(lastReport) >= interval {
					report()
					lastReport = time.Now()
				}
			},
			OnStop: report,
		}
	})
}

// RateMeter counts elements over a trailing window, in buckets of a tenth
// of the window each.
type RateMeter struct {
	mu      sync.Mutex
	window  time.Duration
	width   time.Duration
	buckets []bucket
}

type bucket struct {
	start time.Time
	n     int64
}

const rateBuckets = 10

func NewRateMeter(window time.Duration) *RateMeter {
	return &RateMeter{window: window, width: max(window/rateBuckets, time.Millisecond)}
}

// Add records n elements now.
func (r *RateMeter) Add(n int64) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire(now)
	if k := len(r.buckets); k > 0 && now.Sub(r.buckets[k-1].start) < r.width {
		r.buckets[k-1].n += n
		return
	}
	r.buckets = append(r.buckets, bucket{start: now, n: n})
}

func (r *RateMeter) expire(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.buckets) && r.buckets[i].start.Before(cutoff) {
		i++
	}
	r.buckets = r.buckets[i:]
}

// Rate returns elements per second over the window.
func (r *RateMeter) Rate() float64 {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire(now)
	if len(r.buckets) == 0 {
		return 0
	}
	elapsed := now.Sub(r.buckets[0].start)
	if elapsed <= 0 {
		return 0
	}
	return float64(r.sum()) / elapsed.Seconds()
}

// TotalCount returns the number of elements within the window.
func (r *RateMeter) TotalCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire(time.Now())
	return r.sum()
}

func (r *RateMeter) sum() int64 {
	var total int64
	for _, b := range r.buckets {
		total += b.n
	}
	return total
}

// MeterRate creates a Flow adding every element to meter.
func MeterRate[T any](meter *RateMeter) core.Flow[T, T, core.NotUsed] {
	return ForEachElement(func(T) { meter.Add(1) })
}

// Histogram counts occurrences of each distinct value. It is safe for
// concurrent use by several materializations.
type Histogram[T comparable] struct {
	counts sync.Map // T -> *atomic.Int64
	total  atomic.Int64
}

func NewHistogram[T comparable]() *Histogram[T] {
	return &Histogram[T]{}
}

func (h *Histogram[T]) Add(v T) {
	c, ok := h.counts.Load(v)
	if !ok {
		c, _ = h.counts.LoadOrStore(v, new(atomic.Int64))
	}
	c.(*atomic.Int64).Add(1)
	h.total.Add(1)
}

func (h *Histogram[T]) Count(v T) int64 {
	if c, ok := h.counts.Load(v); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

func (h *Histogram[T]) Total() int64 { return h.total.Load() }

// Counts returns a snapshot of every count.
func (h *Histogram[T]) Counts() map[T]int64 {
	out := make(map[T]int64)
	h.counts.Range(func(k, c any) bool {
		out[k.(T)] = c.(*atomic.Int64).Load()
		return true
	})
	return out
}

// MeterHistogram creates a Flow recording every element in histogram.
func MeterHistogram[T comparable](histogram *Histogram[T]) core.Flow[T, T, core.NotUsed] {
	return ForEachElement(histogram.Add)
}
