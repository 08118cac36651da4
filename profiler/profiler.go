// Package profiler - Stage timing for pipeline runs.
package profiler

import (
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// TimeTracker tracks timing statistics for one named operation.
type TimeTracker struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// Average returns the mean duration.
func (t TimeTracker) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// Profiler records operation durations. It is safe for concurrent use.
type Profiler struct {
	mu             sync.Mutex
	startTime      time.Time
	order          []string
	operationTimes map[string]*TimeTracker
	now            func() time.Time
}

// New returns a profiler whose uptime starts now.
func New() *Profiler {
	return &Profiler{
		startTime:      time.Now(),
		operationTimes: make(map[string]*TimeTracker),
		now:            time.Now,
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := p.now()
	return func() {
		p.Record(name, p.now().Sub(start))
	}
}

// Record adds one observation for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{Name: name, MinTime: duration, MaxTime: duration}
		p.operationTimes[name] = tracker
		p.order = append(p.order, name)
	}
	tracker.TotalTime += duration
	tracker.Count++
	if duration < tracker.MinTime {
		tracker.MinTime = duration
	}
	if duration > tracker.MaxTime {
		tracker.MaxTime = duration
	}
}

// Operations returns a snapshot of every tracker in first-recorded order.
func (p *Profiler) Operations() []TimeTracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TimeTracker, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.operationTimes[name])
	}
	return out
}

// Slowest returns the tracker with the largest total time.
func (p *Profiler) Slowest() (TimeTracker, bool) {
	ops := p.Operations()
	if len(ops) == 0 {
		return TimeTracker{}, false
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].TotalTime > ops[j].TotalTime })
	return ops[0], true
}

// Log writes one line per operation, then the slowest operation and the uptime, at the given
// verbosity.
func (p *Profiler) Log(logger klog.Logger, level int) {
	for _, t := range p.Operations() {
		logger.V(level).Info("Operation timing",
			"operation", t.Name,
			"count", t.Count,
			"avg", t.Average().Truncate(time.Microsecond),
			"min", t.MinTime.Truncate(time.Microsecond),
			"max", t.MaxTime.Truncate(time.Microsecond),
		)
	}
	if t, ok := p.Slowest(); ok {
		logger.V(level).Info("Slowest operation", "operation", t.Name, "total", t.TotalTime.Truncate(time.Microsecond))
	}
	logger.V(level).Info("Uptime", "elapsed", p.now().Sub(p.startTime).Truncate(time.Millisecond))
}
