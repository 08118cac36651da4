//go:build windows

package adapters

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

var (
	dxcore                   = windows.NewLazySystemDLL("dxcore.dll")
	procCreateAdapterFactory = dxcore.NewProc("DXCoreCreateAdapterFactory")
	iidDXCoreAdapterFactory  = mustGUID("{78ee5945-c36e-4b13-a669-005dd11c0f06}")
	iidDXCoreAdapterList     = mustGUID("{526c7776-40e9-459b-b711-f32ad76dfc28}")
	iidDXCoreAdapter         = mustGUID("{f0db4c7f-fe5a-42a2-bd62-f2a6cf6fc83e}")
)

// Vtable slots, counting the three IUnknown methods.
const (
	slotRelease = 2

	slotCreateAdapterList = 3

	slotGetAdapter      = 3
	slotGetAdapterCount = 4

	slotIsPropertySupported = 5
	slotGetProperty         = 6
	slotGetPropertySize     = 7
)

func mustGUID(s string) windows.GUID {
	g, err := windows.GUIDFromString(s)
	if err != nil {
		panic(err)
	}
	return g
}

// Open creates a DXCore adapter factory.
func Open() (Factory, error) {
	if err := procCreateAdapterFactory.Find(); err != nil {
		return nil, errors.Wrap(ErrUnsupportedPlatform, err.Error())
	}
	var ptr uintptr
	hr, _, _ := procCreateAdapterFactory.Call(
		uintptr(unsafe.Pointer(&iidDXCoreAdapterFactory)),
		uintptr(unsafe.Pointer(&ptr)),
	)
	if err := hresult("DXCoreCreateAdapterFactory", hr); err != nil {
		return nil, err
	}
	return &dxFactory{com: comObject(ptr)}, nil
}

// comObject is a COM interface pointer.
type comObject uintptr

// method returns the function pointer in vtable slot.
func (o comObject) method(slot int) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(o))
	return *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
}

// call invokes a method whose arguments are all plain integers. Methods taking Go pointers call
// syscall.SyscallN directly so the pointer conversions stay in the call expression.
func (o comObject) call(slot int, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(o.method(slot), append([]uintptr{uintptr(o)}, args...)...)
	return r
}

func (o comObject) release() error {
	if o != 0 {
		o.call(slotRelease)
	}
	return nil
}

func hresult(op string, hr uintptr) error {
	if int32(hr) < 0 {
		return errors.Errorf("%s failed: HRESULT 0x%08X", op, uint32(hr))
	}
	return nil
}

type dxFactory struct {
	com comObject
}

func (f *dxFactory) Adapters(filter Filter) (List, error) {
	attr, err := windows.GUIDFromString(filter.GUID())
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownFilter, "%q", filter)
	}
	var ptr uintptr
	hr, _, _ := syscall.SyscallN(f.com.method(slotCreateAdapterList),
		uintptr(f.com),
		1,
		uintptr(unsafe.Pointer(&attr)),
		uintptr(unsafe.Pointer(&iidDXCoreAdapterList)),
		uintptr(unsafe.Pointer(&ptr)),
	)
	if err := hresult("CreateAdapterList", hr); err != nil {
		return nil, err
	}
	return &dxList{com: comObject(ptr)}, nil
}

func (f *dxFactory) Close() error {
	return f.com.release()
}

type dxList struct {
	com comObject
}

func (l *dxList) Count() int {
	return int(uint32(l.com.call(slotGetAdapterCount)))
}

func (l *dxList) Adapter(index int) (Device, error) {
	var ptr uintptr
	hr, _, _ := syscall.SyscallN(l.com.method(slotGetAdapter),
		uintptr(l.com),
		uintptr(uint32(index)),
		uintptr(unsafe.Pointer(&iidDXCoreAdapter)),
		uintptr(unsafe.Pointer(&ptr)),
	)
	if err := hresult("GetAdapter", hr); err != nil {
		return nil, err
	}
	return &dxAdapter{com: comObject(ptr)}, nil
}

func (l *dxList) Close() error {
	return l.com.release()
}

type dxAdapter struct {
	com comObject
}

func (a *dxAdapter) Property(p Property) ([]byte, error) {
	if uint8(a.com.call(slotIsPropertySupported, uintptr(p))) == 0 {
		return nil, errors.Wrap(ErrPropertyUnsupported, p.String())
	}
	var size uintptr
	hr, _, _ := syscall.SyscallN(a.com.method(slotGetPropertySize),
		uintptr(a.com),
		uintptr(p),
		uintptr(unsafe.Pointer(&size)),
	)
	if err := hresult("GetPropertySize", hr); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	hr, _, _ = syscall.SyscallN(a.com.method(slotGetProperty),
		uintptr(a.com),
		uintptr(p),
		size,
		uintptr(unsafe.Pointer(&buf[0])),
	)
	if err := hresult("GetProperty", hr); err != nil {
		return nil, err
	}
	return buf, nil
}

func (a *dxAdapter) Close() error {
	return a.com.release()
}
