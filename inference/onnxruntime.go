package inference

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference/providers"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// ONNXRuntimeName identifies the native engine.
const ONNXRuntimeName = "onnxruntime"

// ORTOptions configures the native engine.
type ORTOptions struct {
	// LibraryPath is the ONNX Runtime shared library. Empty resolves through
	// providers.SharedLibraryPath.
	LibraryPath string
	// Providers is the execution provider preference list.
	Providers []providers.Preference
	// Session holds session-level settings.
	Session providers.SessionConfig
}

// ORTEngine runs graphs through ONNX Runtime with the configured execution providers.
type ORTEngine struct {
	opts      ORTOptions
	ownsEnv   bool
	closeOnce sync.Once
}

// NewORTEngine loads the native library and initializes the process-wide runtime environment.
//
// Order of operations:
//  1. Library path check: fails early when the native library is missing.
//  2. Environment setup: done once per process; an environment created elsewhere is reused.
//
// Arguments:
//   - ctx: Carries the logger.
//   - opts: Engine options.
//
// Returns:
//   - *ORTEngine: The engine. Close destroys the environment if this engine created it.
//   - error: An error if the library cannot be found or the environment cannot start.
func NewORTEngine(ctx context.Context, opts ORTOptions) (*ORTEngine, error) {
	logger := klog.FromContext(ctx)
	e := &ORTEngine{opts: opts}
	if len(e.opts.Providers) == 0 {
		e.opts.Providers = providers.DefaultPreferences()
	}

	if ort.IsInitialized() {
		logger.V(2).Info("Reusing initialized ONNX Runtime environment")
		return e, nil
	}

	libPath := providers.SharedLibraryPath(opts.LibraryPath)
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "initializing ONNX Runtime environment")
	}
	e.ownsEnv = true
	logger.V(1).Info("ONNX Runtime initialized", "library", libPath, "version", ort.GetVersion())
	return e, nil
}

// Name returns "onnxruntime".
func (e *ORTEngine) Name() string {
	return ONNXRuntimeName
}

// Close destroys the runtime environment when this engine created it.
func (e *ORTEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.ownsEnv {
			err = ort.DestroyEnvironment()
		}
	})
	return err
}

// Run loads model into a new session, runs it once and copies every output into Go memory.
//
// Every native object acquired along the way is registered with a Scope and released before Run
// returns, in reverse order, whether the run succeeds or not.
func (e *ORTEngine) Run(ctx context.Context, model []byte, inputs []tensor.Named) (out []tensor.Named, err error) {
	logger := klog.FromContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, runFailed(e.Name(), err)
	}

	scope := NewScope()
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			logger.Error(cerr, "Releasing ONNX Runtime resources")
		}
	}()

	inInfo, outInfo, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, runFailed(e.Name(), errors.Wrap(err, "reading model signature"))
	}
	ordered, err := CheckInputs(signaturesFromInfo(inInfo), inputs)
	if err != nil {
		return nil, runFailed(e.Name(), err)
	}

	options, attached, err := providers.NewSessionOptions(ctx, e.opts.Session, e.opts.Providers)
	if err != nil {
		return nil, runFailed(e.Name(), err)
	}
	scope.Add("session options", options.Destroy)
	logger.V(1).Info("Execution providers", "attached", attached)

	inNames := make([]string, len(ordered))
	for i, in := range ordered {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outInfo))
	for i, info := range outInfo {
		outNames[i] = info.Name
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model, inNames, outNames, options)
	if err != nil {
		return nil, runFailed(e.Name(), errors.Wrap(err, "creating session"))
	}
	scope.Add("session", session.Destroy)

	inValues := make([]ort.Value, len(ordered))
	for i, in := range ordered {
		t, err := ort.NewTensor(ort.NewShape(in.Buffer.Shape()...), in.Buffer.Data())
		if err != nil {
			return nil, runFailed(e.Name(), errors.Wrapf(err, "creating input tensor %q", in.Name))
		}
		scope.Add("input "+in.Name, t.Destroy)
		inValues[i] = t
	}

	// Nil outputs are allocated by the runtime with their concrete shapes.
	outValues := make([]ort.Value, len(outNames))
	runErr := session.Run(inValues, outValues)
	for i, v := range outValues {
		if v != nil {
			scope.Add("output "+outNames[i], v.Destroy)
		}
	}
	if runErr != nil {
		return nil, runFailed(e.Name(), runErr)
	}

	out = make([]tensor.Named, len(outNames))
	for i, v := range outValues {
		buf, err := copyOutput(v)
		if err != nil {
			return nil, runFailed(e.Name(), errors.Wrapf(err, "output %q", outNames[i]))
		}
		out[i] = tensor.Named{Name: outNames[i], Buffer: buf}
	}
	return out, nil
}

func copyOutput(v ort.Value) (*tensor.Buffer, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("unsupported output value %T", v)
	}
	return tensor.New(t.GetShape(), append([]float32(nil), t.GetData()...))
}

// signaturesFromInfo converts runtime input metadata. The runtime reports dynamic dimensions as -1
// without their symbolic names, so each one gets a unique name and binds independently.
func signaturesFromInfo(infos []ort.InputOutputInfo) []Signature {
	sigs := make([]Signature, len(infos))
	for i, info := range infos {
		dims := make([]graph.Dimension, len(info.Dimensions))
		for j, d := range info.Dimensions {
			if d < 0 {
				dims[j] = graph.Symbolic(fmt.Sprintf("%s:%d", info.Name, j))
				continue
			}
			dims[j] = graph.Fixed(d)
		}
		sigs[i] = Signature{Name: info.Name, Dims: dims}
	}
	return sigs
}
