package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// appendDirectML attaches the DirectML provider. DirectML does not support parallel execution, so
// the session is switched to sequential mode first.
//
// Recognized options:
//   - device_id: The adapter index as enumerated by DirectX. Default 0.
func appendDirectML(options *ort.SessionOptions, opts map[string]string) error {
	deviceID, err := intOption(opts, "device_id", 0)
	if err != nil {
		return err
	}
	if err := options.SetExecutionMode(ort.ExecutionModeSequential); err != nil {
		return errors.Wrap(err, "setting sequential execution for DirectML")
	}
	return errors.Wrap(options.AppendExecutionProviderDirectML(deviceID), "enabling DirectML")
}
