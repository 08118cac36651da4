// Package benchmark - Repeated pipeline runs with throughput and memory metrics.
package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/nvr-ai/go-npu/config"
	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference"
	"github.com/nvr-ai/go-npu/pipeline"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultTolerance is the absolute difference allowed between an engine output and the reference.
const DefaultTolerance float32 = 1e-3

// Scenario defines one benchmark configuration.
type Scenario struct {
	Name       string        `json:"name"`
	Config     config.Config `json:"-"`
	Iterations int           `json:"iterations"`
	WarmupRuns int           `json:"warmup_runs"`

	// Tolerance bounds the output error against the reference product. Zero means DefaultTolerance.
	Tolerance float32 `json:"tolerance,omitempty"`
}

// PerformanceMetrics captures the measurements of one scenario.
type PerformanceMetrics struct {
	Scenario      Scenario      `json:"scenario"`
	Engine        string        `json:"engine"`
	BatchSize     int           `json:"batch_size"`
	Timestamp     time.Time     `json:"timestamp"`
	TotalDuration time.Duration `json:"total_duration"`
	RunsPerSecond float64       `json:"runs_per_second"`
	MemoryStats   MemoryMetrics `json:"memory_stats"`
	NumCPU        int           `json:"num_cpu"`
	ErrorRate     float64       `json:"error_rate"`

	// Verified is set when outputs were checked against the reference product.
	Verified   bool    `json:"verified"`
	MaxAbsDiff float32 `json:"max_abs_diff"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// Suite runs scenarios against a single engine and keeps their metrics.
type Suite struct {
	engine    inference.Engine
	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
	now       func() time.Time
}

// NewSuite creates a suite that runs every scenario on engine. The suite does not close it.
func NewSuite(engine inference.Engine) *Suite {
	return &Suite{engine: engine, now: time.Now}
}

// AddScenario adds a scenario to the suite.
func (s *Suite) AddScenario(sc Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, sc)
}

// RunScenario executes one scenario. Warmup failures are ignored; measured failures count toward
// the error rate. Output is discarded.
//
// When the scenario runs the built descriptor, every measured output is compared with W x X
// computed directly from the configured data, and an output outside the tolerance counts as a
// failure.
func (s *Suite) RunScenario(ctx context.Context, sc Scenario) (*PerformanceMetrics, error) {
	if sc.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s: iterations must be positive, got %d", sc.Name, sc.Iterations)
	}
	p, err := pipeline.NewBuilder().
		WithConfig(sc.Config).
		WithEngine(s.engine).
		WithOutput(io.Discard).
		Build()
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", sc.Name)
	}

	want, err := reference(sc.Config)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", sc.Name)
	}
	tol := sc.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}

	for i := 0; i < sc.WarmupRuns; i++ {
		_, _ = p.Run(ctx)
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	start := s.now()
	failures := 0
	var worst float32
	for i := 0; i < sc.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.Run(ctx)
		if err != nil {
			failures++
			continue
		}
		if want == nil {
			continue
		}
		diff, err := res.Output.MaxAbsDiff(want)
		if err != nil || !res.Output.AlmostEqual(want, tol) {
			failures++
		}
		if err == nil && diff > worst && diff <= math.MaxFloat32 {
			worst = diff
		}
	}
	total := s.now().Sub(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	m := &PerformanceMetrics{
		Scenario:      sc,
		Engine:        s.engine.Name(),
		BatchSize:     len(sc.Config.Data.Rows),
		Timestamp:     start,
		TotalDuration: total,
		NumCPU:        runtime.NumCPU(),
		ErrorRate:     float64(failures) / float64(sc.Iterations),
		Verified:      want != nil,
		MaxAbsDiff:    worst,
		MemoryStats: MemoryMetrics{
			AllocBytes:      endMem.Alloc,
			TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
			SysBytes:        endMem.Sys,
			NumGC:           endMem.NumGC - startMem.NumGC,
			HeapAllocBytes:  endMem.HeapAlloc,
		},
	}
	if total > 0 {
		m.RunsPerSecond = float64(sc.Iterations) / total.Seconds()
	}
	return m, nil
}

// reference computes the expected [n,4,1] output of the built descriptor. It returns nil when the
// configuration loads its own descriptor file.
func reference(cfg config.Config) (*tensor.Buffer, error) {
	if cfg.Graph.Model != "" {
		return nil, nil
	}
	n := len(cfg.Data.Rows)
	want, err := tensor.Zeros(int64(n), graph.Width, 1)
	if err != nil {
		return nil, err
	}
	for b, row := range cfg.Data.Rows {
		for i, w := range cfg.Data.Matrix {
			var sum float32
			for k, v := range row {
				sum += w[k] * v
			}
			if err := want.Set(sum, b, i, 0); err != nil {
				return nil, err
			}
		}
	}
	return want, nil
}

// RunAllScenarios executes every scenario in the order added. A failing scenario is logged and
// skipped.
func (s *Suite) RunAllScenarios(ctx context.Context) []PerformanceMetrics {
	logger := klog.FromContext(ctx)

	s.mu.RLock()
	scenarios := append([]Scenario(nil), s.scenarios...)
	s.mu.RUnlock()

	for _, sc := range scenarios {
		m, err := s.RunScenario(ctx, sc)
		if err != nil {
			logger.Error(err, "Scenario failed", "scenario", sc.Name)
			continue
		}
		s.Record(*m)
		logger.Info("Scenario completed", "scenario", sc.Name, "engine", m.Engine,
			"runsPerSecond", fmt.Sprintf("%.2f", m.RunsPerSecond), "errorRate", m.ErrorRate)
	}
	return s.GetResults()
}

// Record stores metrics produced outside RunAllScenarios.
func (s *Suite) Record(m PerformanceMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, m)
}

// GetResults returns a copy of all recorded metrics.
func (s *Suite) GetResults() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// SaveResults writes the recorded metrics to dir as benchmark_results_<ts>.json and
// benchmark_summary_<ts>.csv and returns both paths.
func (s *Suite) SaveResults(dir string) (string, string, error) {
	results := s.GetResults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "creating output directory")
	}

	stamp := s.now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(dir, fmt.Sprintf("benchmark_results_%s.json", stamp))
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "marshaling results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return "", "", errors.Wrap(err, "writing results file")
	}

	summaryFile := filepath.Join(dir, fmt.Sprintf("benchmark_summary_%s.csv", stamp))
	f, err := os.Create(summaryFile)
	if err != nil {
		return "", "", errors.Wrap(err, "creating summary file")
	}
	defer f.Close()
	if err := WriteSummary(f, results); err != nil {
		return "", "", errors.Wrap(err, "writing summary file")
	}
	return resultsFile, summaryFile, nil
}

// WriteSummary writes one CSV row per result.
func WriteSummary(w io.Writer, results []PerformanceMetrics) error {
	if _, err := io.WriteString(w, "Scenario,Engine,Batch,Iterations,Runs_Per_Second,Total_Duration_ms,Alloc_MB,Error_Rate,Max_Abs_Diff\n"); err != nil {
		return err
	}
	for _, r := range results {
		_, err := fmt.Fprintf(w, "%s,%s,%d,%d,%.2f,%.2f,%.2f,%.4f,%g\n",
			r.Scenario.Name,
			r.Engine,
			r.BatchSize,
			r.Scenario.Iterations,
			r.RunsPerSecond,
			float64(r.TotalDuration.Nanoseconds())/1e6,
			float64(r.MemoryStats.TotalAllocBytes)/(1024*1024),
			r.ErrorRate,
			r.MaxAbsDiff,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
