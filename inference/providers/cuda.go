package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// appendCUDA attaches the CUDA provider. Options are passed to the runtime unchanged using the
// documented snake_case keys, for example device_id or gpu_mem_limit.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
func appendCUDA(options *ort.SessionOptions, opts map[string]string) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return errors.Wrap(err, "creating CUDA provider options")
	}
	defer cuda.Destroy()

	if len(opts) > 0 {
		if err := cuda.Update(opts); err != nil {
			return errors.Wrap(err, "updating CUDA provider options")
		}
	}
	return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enabling CUDA")
}
