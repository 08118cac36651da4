// Command npu runs a batched matrix multiply through ONNX Runtime, preferring an NPU or GPU through
// DirectML, and prints one line per batch row.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/benchmark"
	"github.com/nvr-ai/go-npu/config"
	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference"
	"github.com/nvr-ai/go-npu/pipeline"
	"github.com/nvr-ai/go-npu/util"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx, os.Args[1:], os.Stdout)
	klog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("npu", flag.ContinueOnError)
	klog.InitFlags(fs)

	configPath := fs.String("config", "", "YAML configuration file")
	weights := fs.String("weights", "", "weight source: input or constant")
	model := fs.String("model", "", "descriptor file (.json or .onnx), or a directory of them, to run instead of the built graph")
	enumerate := fs.Bool("adapters", false, "enumerate compute adapters before running")
	filter := fs.String("adapter-filter", "", "adapter filter: core-compute or generic-ml")
	engineName := fs.String("engine", "", "inference engine: onnxruntime or gorgonia")
	library := fs.String("library", "", "ONNX Runtime shared library path")
	printGraph := fs.Bool("print-graph", false, "print the graph descriptor as JSON and exit")
	benchRuns := fs.Int("bench", 0, "run the configured pipeline this many times and report throughput instead of results")
	benchOut := fs.String("bench-out", "", "directory for benchmark JSON and CSV results")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "weights":
			cfg.Graph.Weights, err = graph.ParseWeightSource(*weights)
		case "model":
			cfg.Graph.Model = *model
		case "adapters":
			cfg.Adapters.Enumerate = *enumerate
		case "adapter-filter":
			cfg.Adapters.Filter, err = adapters.ParseFilter(*filter)
		case "engine":
			cfg.Engine.Type, err = inference.ParseEngineType(*engineName)
		case "library":
			cfg.Engine.LibraryPath = *library
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	descs, err := descriptorDir(cfg.Graph.Model)
	if err != nil {
		return err
	}
	if descs != nil {
		cfg.Graph.Model = ""
	}

	log := klog.FromContext(ctx)
	ctx = klog.NewContext(ctx, log)

	if *printGraph {
		return printDescriptors(cfg, descs, stdout)
	}

	engine, err := inference.New(ctx, cfg.EngineOptions())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			log.Error(cerr, "Closing engine")
		}
	}()
	log.Info("Starting npu", "engine", engine.Name(), "weights", cfg.Graph.Weights, "batch", len(cfg.Data.Rows),
		"descriptors", len(descs))

	if *benchRuns > 0 {
		return runBenchmark(ctx, engine, scenarios(cfg, descs, *benchRuns), *benchOut, stdout)
	}

	if descs == nil {
		p, err := pipeline.NewBuilder().WithConfig(cfg).WithOutput(stdout).WithEngine(engine).Build()
		if err != nil {
			return err
		}
		_, err = p.Run(ctx)
		return err
	}
	for _, d := range descs {
		fmt.Fprintf(stdout, "%s:\n", filepath.Base(d.Path))
		p, err := pipeline.NewBuilder().WithConfig(cfg).WithModel(d.Model).WithOutput(stdout).WithEngine(engine).Build()
		if err != nil {
			return err
		}
		if _, err := p.Run(ctx); err != nil {
			return errors.Wrapf(err, "running %s", d.Path)
		}
	}
	return nil
}

// descriptorDir loads every descriptor under path when it names a directory. It returns nil for a
// file or an empty path.
func descriptorDir(path string) ([]util.DescriptorFile, error) {
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	descs, err := util.LoadDirectoryDescriptors(path)
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, errors.Errorf("no .json or .onnx descriptors in %s", path)
	}
	return descs, nil
}

func printDescriptors(cfg config.Config, descs []util.DescriptorFile, stdout io.Writer) error {
	models := make([]*graph.Model, 0, len(descs))
	for _, d := range descs {
		models = append(models, d.Model)
	}
	if len(models) == 0 {
		p, err := pipeline.NewBuilder().WithConfig(cfg).WithOutput(stdout).WithEngine(inference.NewGorgoniaEngine()).Build()
		if err != nil {
			return err
		}
		m, err := p.Descriptor()
		if err != nil {
			return err
		}
		models = append(models, m)
	}
	for _, m := range models {
		text, err := m.IndentedJSON()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(stdout, string(text)); err != nil {
			return err
		}
	}
	return nil
}

// scenarios returns one scenario for the configured graph, or one per descriptor file.
func scenarios(cfg config.Config, descs []util.DescriptorFile, runs int) []benchmark.Scenario {
	if len(descs) == 0 {
		return []benchmark.Scenario{{Name: cfg.Graph.Weights.String(), Config: cfg, Iterations: runs, WarmupRuns: 1}}
	}
	out := make([]benchmark.Scenario, 0, len(descs))
	for _, d := range descs {
		c := cfg
		c.Graph.Model = d.Path
		out = append(out, benchmark.Scenario{Name: filepath.Base(d.Path), Config: c, Iterations: runs, WarmupRuns: 1})
	}
	return out
}

func runBenchmark(ctx context.Context, engine inference.Engine, scs []benchmark.Scenario, dir string, stdout io.Writer) error {
	suite := benchmark.NewSuite(engine)
	for _, sc := range scs {
		suite.AddScenario(sc)
	}
	results := suite.RunAllScenarios(ctx)
	if len(results) == 0 {
		return errors.New("no benchmark scenario completed")
	}
	if err := benchmark.WriteSummary(stdout, results); err != nil {
		return err
	}
	if dir == "" {
		return nil
	}
	_, _, err := suite.SaveResults(dir)
	return err
}
