package monitor

import (
	"unsafe"

	"github.com/keystone-riscv/enclave-host/internal/defs"
)

// IoctlFunc performs the actual ioctl(2) call against the enclave driver
// file descriptor. Swappable in tests, mirroring the host-side
// /dev/keystone_enclave boundary (spec §4.10 Ioctl).
type IoctlFunc func(fd uintptr, req uintptr, arg unsafe.Pointer) error

// Ioctl request numbers for the command set in spec §6, matching
// original_source's keystone-rust-sdk/src/host/ioctl.rs numbering scheme
// (_IOR/_IOW family, kept as plain opaque values here since this package
// only forwards them, never interprets them).
const (
	ioctlCreateEnclave uintptr = 0x0001
	ioctlUTMInit       uintptr = 0x0002
	ioctlFinalize      uintptr = 0x0003
	ioctlRun           uintptr = 0x0004
	ioctlResume        uintptr = 0x0005
	ioctlDestroy       uintptr = 0x0006
)

// Ioctl wraps an injected IoctlFunc and a driver file descriptor into a
// Boundary.
type Ioctl struct {
	fd   uintptr
	call IoctlFunc
}

// NewIoctl builds an Ioctl backend against the given open driver fd.
func NewIoctl(fd uintptr, call IoctlFunc) *Ioctl {
	return &Ioctl{fd: fd, call: call}
}

type createEnclaveArg struct {
	minPages uint64
	eid      uint64
	ptPaddr  uint64
}

func (b *Ioctl) CreateEnclave(minPages int) (uint16, uint64, defs.Err_t) {
	arg := createEnclaveArg{minPages: uint64(minPages)}
	if err := b.call(b.fd, ioctlCreateEnclave, unsafe.Pointer(&arg)); err != nil {
		return 0, 0, defs.ErrDeviceInitFailure
	}
	return uint16(arg.eid), arg.ptPaddr, defs.ErrNone
}

type utmInitArg struct {
	eid           uint64
	untrustedSize uint64
	utmFreePaddr  uint64
}

func (b *Ioctl) UTMInit(eid uint16, untrustedSize int) (uint64, defs.Err_t) {
	arg := utmInitArg{eid: uint64(eid), untrustedSize: uint64(untrustedSize)}
	if err := b.call(b.fd, ioctlUTMInit, unsafe.Pointer(&arg)); err != nil {
		return 0, defs.ErrDeviceMemoryMapError
	}
	return arg.utmFreePaddr, defs.ErrNone
}

type finalizeEnclaveArg struct {
	eid          uint64
	runtimePaddr uint64
	userPaddr    uint64
	freePaddr    uint64
	params       [4]uint64
}

func (b *Ioctl) FinalizeEnclave(eid uint16, runtimePaddr, userPaddr, freePaddr uint64, params RuntimeParams) defs.Err_t {
	arg := finalizeEnclaveArg{
		eid:          uint64(eid),
		runtimePaddr: runtimePaddr,
		userPaddr:    userPaddr,
		freePaddr:    freePaddr,
		params: [4]uint64{
			params.RuntimeEntry,
			params.UserEntry,
			params.UntrustedPtr,
			params.UntrustedSize,
		},
	}
	if err := b.call(b.fd, ioctlFinalize, unsafe.Pointer(&arg)); err != nil {
		return defs.ErrDeviceError
	}
	return defs.ErrNone
}

type runEnclaveArg struct {
	eid    uint64
	status uint64
	value  uint64
}

func (b *Ioctl) RunEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	return b.run(ioctlRun, eid)
}

func (b *Ioctl) ResumeEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	return b.run(ioctlResume, eid)
}

func (b *Ioctl) run(req uintptr, eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	arg := runEnclaveArg{eid: uint64(eid)}
	if err := b.call(b.fd, req, unsafe.Pointer(&arg)); err != nil {
		return defs.RunFatal, 0, defs.ErrDeviceError
	}
	return defs.RunStatus(arg.status), arg.value, defs.ErrNone
}

func (b *Ioctl) DestroyEnclave(eid uint16) defs.Err_t {
	arg := struct{ eid uint64 }{eid: uint64(eid)}
	if err := b.call(b.fd, ioctlDestroy, unsafe.Pointer(&arg)); err != nil {
		return defs.ErrDeviceError
	}
	return defs.ErrNone
}
