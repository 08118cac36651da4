package providers

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// SessionConfig contains the ONNX Runtime session settings applied before any provider.
type SessionConfig struct {
	// Optimization is one of "disabled", "basic", "extended" or "all".
	Optimization string `yaml:"optimization,omitempty"`
	// IntraOpThreads sets threads for parallelizing a single op. Zero lets the runtime decide.
	IntraOpThreads int `yaml:"intraOpThreads,omitempty"`
	// InterOpThreads sets threads for parallelizing independent ops. Zero lets the runtime decide.
	InterOpThreads int `yaml:"interOpThreads,omitempty"`
}

// GraphOptimizationLevel maps the configured name to the runtime level.
func (c SessionConfig) GraphOptimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch c.Optimization {
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "disabled":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, errors.Errorf("unknown graph optimization level %q", c.Optimization)
	}
}

// NewSessionOptions creates session options and appends the preferred execution providers.
//
// Providers are appended highest priority first; the runtime assigns each node to the first
// provider that supports it and falls back to CPU for the rest. A provider that fails to attach is
// logged and skipped so the run can still proceed on the remaining ones.
//
// Arguments:
//   - ctx: Carries the logger.
//   - cfg: Session-level settings.
//   - prefs: The provider preference list.
//
// Returns:
//   - *ort.SessionOptions: Options the caller must Destroy.
//   - []Backend: The providers that were attached, in order, always ending with CPU.
//   - error: An error if the options could not be created or configured.
func NewSessionOptions(ctx context.Context, cfg SessionConfig, prefs []Preference) (*ort.SessionOptions, []Backend, error) {
	logger := klog.FromContext(ctx)

	level, err := cfg.GraphOptimizationLevel()
	if err != nil {
		return nil, nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating session options")
	}

	if err := configure(options, cfg, level); err != nil {
		options.Destroy()
		return nil, nil, err
	}

	var attached []Backend
	for _, p := range Ordered(prefs) {
		if p.Backend == CPUBackend {
			continue
		}
		if err := appendProvider(options, p); err != nil {
			logger.Info("Execution provider unavailable, skipping", "provider", p.Backend, "err", err)
			continue
		}
		logger.V(2).Info("Execution provider attached", "provider", p.Backend, "priority", p.Priority)
		attached = append(attached, p.Backend)
	}
	return options, append(attached, CPUBackend), nil
}

func configure(options *ort.SessionOptions, cfg SessionConfig, level ort.GraphOptimizationLevel) error {
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return errors.Wrap(err, "setting graph optimization level")
	}
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "setting inter-op threads")
	}
	return nil
}

func appendProvider(options *ort.SessionOptions, p Preference) error {
	switch p.Backend {
	case DirectMLBackend:
		return appendDirectML(options, p.Options)
	case CUDABackend:
		return appendCUDA(options, p.Options)
	case CoreMLBackend:
		return appendCoreML(options, p.Options)
	case OpenVINOBackend:
		return options.AppendExecutionProviderOpenVINO(p.Options)
	default:
		return errors.Wrapf(ErrUnsupportedBackend, "%q", p.Backend)
	}
}

// intOption reads an integer provider option, returning def when the key is absent.
func intOption(opts map[string]string, key string, def int) (int, error) {
	raw, ok := opts[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "option %s", key)
	}
	return v, nil
}

// boolOption reads a boolean provider option, accepting "1"/"0" as well as "true"/"false".
func boolOption(opts map[string]string, key string) (bool, error) {
	raw, ok := opts[key]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Wrapf(err, "option %s", key)
	}
	return v, nil
}
