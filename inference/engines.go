package inference

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EngineType selects an engine implementation.
type EngineType string

const (
	// EngineONNXRuntime runs graphs through the native ONNX Runtime library.
	EngineONNXRuntime EngineType = ONNXRuntimeName
	// EngineGorgonia runs graphs in-process with gorgonia.
	EngineGorgonia EngineType = GorgoniaName
)

// Engines is a list of all supported engines.
var Engines = []EngineType{EngineONNXRuntime, EngineGorgonia}

// ErrUnknownEngine is returned for engine names not in Engines.
var ErrUnknownEngine = errors.New("unknown engine")

// ParseEngineType returns the engine type for a case-insensitive name.
func ParseEngineType(name string) (EngineType, error) {
	want := EngineType(strings.ToLower(strings.TrimSpace(name)))
	for _, e := range Engines {
		if e == want {
			return e, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownEngine, "%q", name)
}

// UnmarshalText implements encoding.TextUnmarshaler for configuration files.
func (t *EngineType) UnmarshalText(text []byte) error {
	parsed, err := ParseEngineType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Options selects and configures an engine.
type Options struct {
	Type EngineType
	ORT  ORTOptions
	// Fallback switches to the gorgonia engine when ONNX Runtime cannot be loaded.
	Fallback bool
}

// New creates the engine named by opts.Type.
//
// Arguments:
//   - ctx: Carries the logger.
//   - opts: Engine selection.
//
// Returns:
//   - Engine: The engine. The caller must Close it.
//   - error: An error if the engine cannot start and no fallback applies.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Type {
	case EngineGorgonia:
		return NewGorgoniaEngine(), nil
	case EngineONNXRuntime, "":
		e, err := NewORTEngine(ctx, opts.ORT)
		if err == nil {
			return e, nil
		}
		if !opts.Fallback {
			return nil, runFailed(ONNXRuntimeName, err)
		}
		klog.FromContext(ctx).Info("ONNX Runtime unavailable, falling back", "engine", GorgoniaName, "err", err)
		return NewGorgoniaEngine(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownEngine, "%q", opts.Type)
	}
}
