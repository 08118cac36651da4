package providers

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
	"gopkg.in/yaml.v3"
)

func TestParseBackend(t *testing.T) {
	for _, b := range Backends {
		got, err := ParseBackend(string(b))
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}

	got, err := ParseBackend(" DirectML ")
	require.NoError(t, err)
	assert.Equal(t, DirectMLBackend, got)

	_, err = ParseBackend("tpu")
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))
}

func TestPreferenceYAML(t *testing.T) {
	input := `
- backend: CUDA
  priority: 50
  options:
    device_id: "1"
- backend: cpu
  priority: 1
`
	var prefs []Preference
	require.NoError(t, yaml.Unmarshal([]byte(input), &prefs))
	require.Len(t, prefs, 2)
	assert.Equal(t, CUDABackend, prefs[0].Backend)
	assert.Equal(t, "1", prefs[0].Options["device_id"])

	err := yaml.Unmarshal([]byte("- backend: quantum\n"), &prefs)
	assert.Error(t, err)
}

func TestOrdered(t *testing.T) {
	prefs := []Preference{
		{Backend: CPUBackend, Priority: 1},
		{Backend: OpenVINOBackend, Priority: 50, Disabled: true},
		{Backend: CoreMLBackend, Priority: 20},
		{Backend: DirectMLBackend, Priority: 100},
		{Backend: CUDABackend, Priority: 20},
	}
	var got []Backend
	for _, p := range Ordered(prefs) {
		got = append(got, p.Backend)
	}
	assert.Equal(t, []Backend{DirectMLBackend, CoreMLBackend, CUDABackend, CPUBackend}, got)
}

func TestDefaultPreferences(t *testing.T) {
	prefs := Ordered(DefaultPreferences())
	require.Len(t, prefs, 2)
	assert.Equal(t, DirectMLBackend, prefs[0].Backend)
	assert.Equal(t, CPUBackend, prefs[1].Backend)
}

func TestCoreMLFlags(t *testing.T) {
	flags, err := CoreMLFlags(nil)
	require.NoError(t, err)
	assert.Zero(t, flags)

	flags, err = CoreMLFlags(map[string]string{"use_cpu_only": "1", "only_enable_device_with_ane": "true"})
	require.NoError(t, err)
	assert.Equal(t, coreMLUseCPUOnly|coreMLOnlyEnableDeviceANE, flags)

	_, err = CoreMLFlags(map[string]string{"use_cpu_only": "maybe"})
	assert.Error(t, err)
}

func TestIntOption(t *testing.T) {
	v, err := intOption(map[string]string{}, "device_id", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = intOption(map[string]string{"device_id": "2"}, "device_id", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = intOption(map[string]string{"device_id": "gpu"}, "device_id", 0)
	assert.Error(t, err)
}

func TestGraphOptimizationLevel(t *testing.T) {
	tests := map[string]ort.GraphOptimizationLevel{
		"":         ort.GraphOptimizationLevelEnableExtended,
		"disabled": ort.GraphOptimizationLevelDisableAll,
		"basic":    ort.GraphOptimizationLevelEnableBasic,
		"extended": ort.GraphOptimizationLevelEnableExtended,
		"all":      ort.GraphOptimizationLevelEnableAll,
	}
	for name, want := range tests {
		got, err := SessionConfig{Optimization: name}.GraphOptimizationLevel()
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := SessionConfig{Optimization: "max"}.GraphOptimizationLevel()
	assert.Error(t, err)
}

func TestSharedLibraryPath(t *testing.T) {
	assert.Equal(t, "/opt/ort/lib.so", SharedLibraryPath("/opt/ort/lib.so"))

	t.Setenv(LibraryPathEnv, "/env/onnxruntime.so")
	assert.Equal(t, "/env/onnxruntime.so", SharedLibraryPath(""))

	t.Setenv(LibraryPathEnv, "")
	assert.Equal(t, "third_party", filepath.Dir(SharedLibraryPath("")))

	assert.Equal(t, "onnxruntime.dll", libraryName("windows", "amd64"))
	assert.Equal(t, "libonnxruntime.dylib", libraryName("darwin", "arm64"))
	assert.Equal(t, "onnxruntime_arm64.so", libraryName("linux", "arm64"))
	assert.Equal(t, "onnxruntime.so", libraryName("linux", "amd64"))
}
