package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// CoreML provider flags.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
const (
	coreMLUseCPUOnly           uint32 = 0x001
	coreMLEnableOnSubgraph     uint32 = 0x002
	coreMLOnlyEnableDeviceANE  uint32 = 0x004
	coreMLOnlyAllowStaticShape uint32 = 0x008
)

var coreMLFlagOptions = []struct {
	key  string
	flag uint32
}{
	{"use_cpu_only", coreMLUseCPUOnly},
	{"enable_on_subgraph", coreMLEnableOnSubgraph},
	{"only_enable_device_with_ane", coreMLOnlyEnableDeviceANE},
	{"only_allow_static_input_shapes", coreMLOnlyAllowStaticShape},
}

// CoreMLFlags folds boolean options into the provider flag word.
func CoreMLFlags(opts map[string]string) (uint32, error) {
	var flags uint32
	for _, o := range coreMLFlagOptions {
		set, err := boolOption(opts, o.key)
		if err != nil {
			return 0, err
		}
		if set {
			flags |= o.flag
		}
	}
	return flags, nil
}

func appendCoreML(options *ort.SessionOptions, opts map[string]string) error {
	flags, err := CoreMLFlags(opts)
	if err != nil {
		return err
	}
	return errors.Wrap(options.AppendExecutionProviderCoreML(flags), "enabling CoreML")
}
