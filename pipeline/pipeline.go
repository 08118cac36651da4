// Package pipeline - The single configurable run: discover, build, populate, execute, report.
package pipeline

import (
	"context"
	"io"
	"os"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/config"
	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference"
	"github.com/nvr-ai/go-npu/profiler"
	"github.com/nvr-ai/go-npu/report"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/nvr-ai/go-npu/util"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options is the set of switches that select a pipeline variant.
type Options struct {
	// WeightSource feeds W at run time or embeds it in the descriptor.
	WeightSource graph.WeightSource
	// EnumerateAdapters runs adapter discovery before the graph is built.
	EnumerateAdapters bool
	// AdapterFilter selects which adapters discovery returns.
	AdapterFilter adapters.Filter
}

// Result is what one run produced.
type Result struct {
	// Adapters is set when discovery ran.
	Adapters *adapters.Report
	// Output is the Y tensor.
	Output *tensor.Buffer
}

// Pipeline runs the fixed sequence once per Run call.
type Pipeline struct {
	opts     Options
	rows     [][]float32
	matrix   [][]float32
	model    *graph.Model
	engine   inference.Engine
	open     adapters.Opener
	out      io.Writer
	profiler *profiler.Profiler
}

// Builder assembles a Pipeline with a fluent API. The first error sticks and is returned by Build.
type Builder struct {
	p   Pipeline
	err error
}

// NewBuilder creates a new pipeline builder writing to stdout with the platform adapter opener.
//
// Returns:
//   - *Builder: The pipeline builder.
func NewBuilder() *Builder {
	return &Builder{p: Pipeline{
		opts:     Options{WeightSource: graph.WeightInput, AdapterFilter: adapters.FilterCoreCompute},
		open:     adapters.Open,
		out:      os.Stdout,
		profiler: profiler.New(),
	}}
}

// WithConfig applies the data, graph and adapter sections of cfg. A configured model file is loaded
// here.
//
// Arguments:
//   - cfg: A validated configuration.
//
// Returns:
//   - *Builder: The pipeline builder.
func (b *Builder) WithConfig(cfg config.Config) *Builder {
	if b.HasError() {
		return b
	}
	b.WithOptions(Options{
		WeightSource:      cfg.Graph.Weights,
		EnumerateAdapters: cfg.Adapters.Enumerate,
		AdapterFilter:     cfg.Adapters.Filter,
	})
	b.WithData(cfg.Data.Rows, cfg.Data.Matrix)
	if cfg.Graph.Model != "" {
		m, err := util.LoadDescriptor(cfg.Graph.Model)
		if err != nil {
			b.err = err
			return b
		}
		b.WithModel(m)
	}
	return b
}

// WithOptions sets the variant switches.
func (b *Builder) WithOptions(opts Options) *Builder {
	if b.HasError() {
		return b
	}
	b.p.opts = opts
	return b
}

// WithData sets the input vectors and the weight matrix.
func (b *Builder) WithData(rows, matrix [][]float32) *Builder {
	if b.HasError() {
		return b
	}
	b.p.rows = rows
	b.p.matrix = matrix
	return b
}

// WithModel replaces the built descriptor with m. Its inputs must be named X and, optionally, W.
func (b *Builder) WithModel(m *graph.Model) *Builder {
	if b.HasError() {
		return b
	}
	if m == nil {
		b.err = errors.New("nil model")
		return b
	}
	b.p.model = m
	return b
}

// WithEngine sets the engine. The pipeline does not close it.
func (b *Builder) WithEngine(e inference.Engine) *Builder {
	if b.HasError() {
		return b
	}
	b.p.engine = e
	return b
}

// WithAdapterOpener replaces the platform discovery interface.
func (b *Builder) WithAdapterOpener(open adapters.Opener) *Builder {
	if b.HasError() {
		return b
	}
	b.p.open = open
	return b
}

// WithOutput sets where results are written.
func (b *Builder) WithOutput(w io.Writer) *Builder {
	if b.HasError() {
		return b
	}
	b.p.out = w
	return b
}

// WithProfiler sets the stage timer.
func (b *Builder) WithProfiler(p *profiler.Profiler) *Builder {
	if b.HasError() {
		return b
	}
	b.p.profiler = p
	return b
}

// HasError checks if the builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *Builder) HasError() bool {
	return b.err != nil
}

// Build builds the pipeline.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: The error if any.
func (b *Builder) Build() (*Pipeline, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.p.engine == nil {
		return nil, errors.New("engine not configured")
	}
	if len(b.p.rows) == 0 {
		return nil, errors.New("input rows not configured")
	}
	if b.p.out == nil {
		return nil, errors.New("output not configured")
	}
	if b.p.opts.EnumerateAdapters && b.p.open == nil {
		return nil, errors.New("adapter opener not configured")
	}
	p := b.p
	return &p, nil
}

// MustBuild builds the pipeline and panics if there is an error.
func (b *Builder) MustBuild() *Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// Descriptor returns the graph the pipeline will run.
func (p *Pipeline) Descriptor() (*graph.Model, error) {
	if p.model != nil {
		return p.model, nil
	}
	return graph.BatchedMatMul(graph.MatMulOptions{
		Weights: p.opts.WeightSource,
		Matrix:  tensor.Flatten(p.matrix),
	})
}

// Run executes discovery (when enabled), descriptor build, population, inference and reporting in
// that order. Discovery failures are reported but never fail the run.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	logger := klog.FromContext(ctx).WithValues("engine", p.engine.Name())
	var res Result

	if p.opts.EnumerateAdapters {
		done := p.profiler.StartOperation("discover")
		rep := adapters.Enumerate(ctx, p.open, p.opts.AdapterFilter)
		done()
		res.Adapters = &rep
		if err := report.Adapters(p.out, rep); err != nil {
			return res, err
		}
	}

	done := p.profiler.StartOperation("build")
	m, data, err := p.compile()
	done()
	if err != nil {
		return res, err
	}

	done = p.profiler.StartOperation("populate")
	inputs, err := p.populate(m)
	done()
	if err != nil {
		return res, err
	}

	done = p.profiler.StartOperation("run")
	outputs, err := p.engine.Run(ctx, data, inputs)
	done()
	if err != nil {
		return res, err
	}
	y, err := output(outputs)
	if err != nil {
		return res, err
	}
	res.Output = y

	done = p.profiler.StartOperation("report")
	err = report.Results(p.out, y)
	done()
	if err != nil {
		return res, err
	}

	p.profiler.Log(logger, 2)
	return res, nil
}

func (p *Pipeline) compile() (*graph.Model, []byte, error) {
	m, err := p.Descriptor()
	if err != nil {
		return nil, nil, errors.Wrap(err, "building descriptor")
	}
	data, err := m.Binary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "serializing descriptor")
	}
	return m, data, nil
}

// populate builds X, and W when the descriptor takes it as an input.
func (p *Pipeline) populate(m *graph.Model) ([]tensor.Named, error) {
	x, err := tensor.FromVectors(len(p.rows), graph.Width, p.rows)
	if err != nil {
		return nil, errors.Wrap(err, "populating X")
	}
	inputs := []tensor.Named{{Name: graph.InputName, Buffer: x}}
	if !declaresInput(m, graph.WeightName) {
		return inputs, nil
	}
	w, err := tensor.FromMatrix(p.matrix)
	if err != nil {
		return nil, errors.Wrap(err, "populating W")
	}
	return append(inputs, tensor.Named{Name: graph.WeightName, Buffer: w}), nil
}

func declaresInput(m *graph.Model, name string) bool {
	for _, in := range m.Graph.Input {
		if in.Name == name {
			return true
		}
	}
	return false
}

// output picks Y, or the only output when the descriptor names it differently.
func output(outputs []tensor.Named) (*tensor.Buffer, error) {
	for _, o := range outputs {
		if o.Name == graph.OutputName {
			return o.Buffer, nil
		}
	}
	if len(outputs) == 1 {
		return outputs[0].Buffer, nil
	}
	return nil, errors.Errorf("engine returned %d outputs and none named %s", len(outputs), graph.OutputName)
}
