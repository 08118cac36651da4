//go:build !windows

package adapters

// Open reports ErrUnsupportedPlatform; DXCore exists only on Windows.
func Open() (Factory, error) {
	return nil, ErrUnsupportedPlatform
}
