package providers

import (
	"os"
	"path/filepath"
	"runtime"
)

// LibraryPathEnv overrides the ONNX Runtime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibraryPath returns the ONNX Runtime shared library to load.
//
// Arguments:
//   - explicit: A configured path. Used as-is when non-empty.
//
// Returns:
//   - string: The explicit path, else the LibraryPathEnv value, else the platform library name
//     under ./third_party.
func SharedLibraryPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		return env
	}
	return filepath.Join("third_party", libraryName(runtime.GOOS, runtime.GOARCH))
}

func libraryName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		if goarch == "arm64" {
			return "onnxruntime_arm64.so"
		}
		return "onnxruntime.so"
	}
}
