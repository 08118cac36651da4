// Package providers - ONNX Runtime execution provider selection and session options.
package providers

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupportedBackend is returned for execution provider names this package does not know.
var ErrUnsupportedBackend = errors.New("unsupported execution provider")

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// DirectMLBackend uses DirectML on Windows GPUs and NPUs.
	DirectMLBackend Backend = "directml"

	// CUDABackend uses NVIDIA CUDA for GPU acceleration.
	CUDABackend Backend = "cuda"

	// CoreMLBackend uses Apple CoreML for macOS acceleration.
	CoreMLBackend Backend = "coreml"

	// OpenVINOBackend uses Intel OpenVINO for CPU, GPU and NPU inference.
	OpenVINOBackend Backend = "openvino"

	// CPUBackend is the default provider. It is always present and never appended explicitly.
	CPUBackend Backend = "cpu"
)

// Backends lists every known execution provider.
var Backends = []Backend{DirectMLBackend, CUDABackend, CoreMLBackend, OpenVINOBackend, CPUBackend}

// ParseBackend returns the backend for a case-insensitive name.
//
// Arguments:
//   - name: The provider name, for example "directml" or "CPU".
//
// Returns:
//   - Backend: The matching backend.
//   - error: ErrUnsupportedBackend if the name is unknown.
func ParseBackend(name string) (Backend, error) {
	want := Backend(strings.ToLower(strings.TrimSpace(name)))
	for _, b := range Backends {
		if b == want {
			return b, nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedBackend, "%q", name)
}

// UnmarshalText implements encoding.TextUnmarshaler for configuration files.
func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Preference configures one execution provider in the selection list.
type Preference struct {
	// Backend names the provider.
	Backend Backend `yaml:"backend"`
	// Priority orders providers; higher values are tried first.
	Priority int `yaml:"priority"`
	// Disabled removes the provider from selection without deleting its entry.
	Disabled bool `yaml:"disabled,omitempty"`
	// Options holds provider-specific keys passed through to the runtime.
	Options map[string]string `yaml:"options,omitempty"`
}

// DefaultPreferences returns DirectML first with CPU as the fallback.
func DefaultPreferences() []Preference {
	return []Preference{
		{Backend: DirectMLBackend, Priority: 100, Options: map[string]string{"device_id": "0"}},
		{Backend: CPUBackend, Priority: 1},
	}
}

// Ordered returns the enabled preferences, highest priority first. Equal priorities keep their
// configured order.
func Ordered(prefs []Preference) []Preference {
	enabled := make([]Preference, 0, len(prefs))
	for _, p := range prefs {
		if !p.Disabled {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})
	return enabled
}
