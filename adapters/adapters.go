// Package adapters - Hardware compute adapter discovery.
//
// Adapters are found through an OS device-discovery interface (DXCore on Windows), filtered by a
// capability attribute. Discovery is informational: failures are reported, never fatal.
package adapters

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedPlatform is returned by Open where no discovery interface exists.
	ErrUnsupportedPlatform = errors.New("adapter discovery is not supported on this platform")
	// ErrPropertyUnsupported is returned when a device does not expose a property.
	ErrPropertyUnsupported = errors.New("adapter property not supported")
	// ErrUnknownFilter is returned for filter names other than core-compute and generic-ml.
	ErrUnknownFilter = errors.New("unknown adapter filter")
)

// Filter selects which adapters discovery returns.
type Filter string

const (
	// FilterCoreCompute matches adapters that support compute shaders.
	FilterCoreCompute Filter = "core-compute"
	// FilterGenericML matches adapters that support machine learning workloads, including NPUs
	// without graphics support.
	FilterGenericML Filter = "generic-ml"
)

// Attribute GUIDs from dxcore_interface.h.
var filterGUIDs = map[Filter]string{
	FilterCoreCompute: "{248e2800-a793-4724-abaa-23a6de1be090}",
	FilterGenericML:   "{b71b0d41-1088-422f-a27c-0250b7d3a988}",
}

// ParseFilter returns the filter for a name.
func ParseFilter(name string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := filterGUIDs[f]; !ok {
		return "", errors.Wrapf(ErrUnknownFilter, "%q", name)
	}
	return f, nil
}

// GUID returns the attribute GUID in registry form.
func (f Filter) GUID() string {
	return filterGUIDs[f]
}

// UnmarshalText implements encoding.TextUnmarshaler for configuration files.
func (f *Filter) UnmarshalText(text []byte) error {
	parsed, err := ParseFilter(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Property identifies an adapter property. Values match DXCoreAdapterProperty.
type Property uint32

const (
	PropertyInstanceLUID      Property = 0
	PropertyDriverVersion     Property = 1
	PropertyDriverDescription Property = 2
	PropertyHardwareID        Property = 3
	PropertyIsHardware        Property = 11
)

var propertyNames = map[Property]string{
	PropertyInstanceLUID:      "InstanceLuid",
	PropertyDriverVersion:     "DriverVersion",
	PropertyDriverDescription: "DriverDescription",
	PropertyHardwareID:        "HardwareID",
	PropertyIsHardware:        "IsHardware",
}

func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Property(%d)", uint32(p))
}

// HardwareID is the PCI identity of an adapter.
type HardwareID struct {
	VendorID uint32
	DeviceID uint32
	SubSysID uint32
	Revision uint32
}

func (h HardwareID) String() string {
	return fmt.Sprintf("VEN_%04X DEV_%04X SUBSYS_%08X REV_%02X", h.VendorID, h.DeviceID, h.SubSysID, h.Revision)
}

// DriverVersion holds the four 16-bit words of a driver version, most significant first.
type DriverVersion [4]uint16

func (v DriverVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// LUID is the locally unique identifier the OS assigns an adapter instance.
type LUID struct {
	Low  uint32
	High int32
}

// Uint64 returns the identifier as a single 64-bit value.
func (l LUID) Uint64() uint64 {
	return uint64(uint32(l.High))<<32 | uint64(l.Low)
}

func (l LUID) String() string {
	return fmt.Sprintf("0x%016X", l.Uint64())
}

// Record is what discovery learned about one adapter. Properties the device did not expose are nil.
type Record struct {
	Index             int
	HardwareID        *HardwareID
	DriverVersion     *DriverVersion
	DriverDescription *string
	IsHardware        *bool
	LUID              *LUID
}

func decodeHardwareID(b []byte) (HardwareID, error) {
	if len(b) < 16 {
		return HardwareID{}, errors.Errorf("hardware ID needs 16 bytes, got %d", len(b))
	}
	le := binary.LittleEndian
	return HardwareID{
		VendorID: le.Uint32(b[0:]),
		DeviceID: le.Uint32(b[4:]),
		SubSysID: le.Uint32(b[8:]),
		Revision: le.Uint32(b[12:]),
	}, nil
}

func decodeDriverVersion(b []byte) (DriverVersion, error) {
	if len(b) < 8 {
		return DriverVersion{}, errors.Errorf("driver version needs 8 bytes, got %d", len(b))
	}
	v := binary.LittleEndian.Uint64(b)
	return DriverVersion{uint16(v >> 48), uint16(v >> 32), uint16(v >> 16), uint16(v)}, nil
}

func decodeLUID(b []byte) (LUID, error) {
	if len(b) < 8 {
		return LUID{}, errors.Errorf("LUID needs 8 bytes, got %d", len(b))
	}
	return LUID{
		Low:  binary.LittleEndian.Uint32(b[0:]),
		High: int32(binary.LittleEndian.Uint32(b[4:])),
	}, nil
}

// decodeString reads a NUL-terminated byte string.
func decodeString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func decodeBool(b []byte) (bool, error) {
	if len(b) < 1 {
		return false, errors.New("boolean property is empty")
	}
	return b[0] != 0, nil
}
