package monitor

import (
	"encoding/binary"
	"unsafe"

	"github.com/keystone-riscv/enclave-host/internal/defs"
)

// SBICaller performs the actual `ecall` instruction: ext/fid select the
// SBI extension and function, args are the six argument registers a0-a5.
// Swappable in tests (spec §4.10 SBI: "so the real ecall instruction is
// swappable in tests").
type SBICaller func(ext, fid uint64, args [6]uint64) (uint64, uint64, error)

// Keystone SBI extension ID and per-command function IDs, matching the
// command set in spec §6.
const (
	sbiExtKeystone uint64 = 0x08424b45

	sbiFidCreateEnclave uint64 = iota
	sbiFidUTMInit
	sbiFidFinalizeEnclave
	sbiFidRunEnclave
	sbiFidResumeEnclave
	sbiFidDestroyEnclave
)

// SBI wraps an SBICaller into a Boundary, marshaling each command's
// argument block per spec §6 into the six a0-a5 registers (spec §4.10
// SBI).
type SBI struct {
	call SBICaller
}

// NewSBI builds an SBI backend around call.
func NewSBI(call SBICaller) *SBI {
	return &SBI{call: call}
}

func (s *SBI) CreateEnclave(minPages int) (uint16, uint64, defs.Err_t) {
	a0, a1, err := s.call(sbiExtKeystone, sbiFidCreateEnclave, [6]uint64{uint64(minPages)})
	if err != nil {
		return 0, 0, defs.ErrDeviceInitFailure
	}
	return uint16(a0), a1, defs.ErrNone
}

func (s *SBI) UTMInit(eid uint16, untrustedSize int) (uint64, defs.Err_t) {
	a0, _, err := s.call(sbiExtKeystone, sbiFidUTMInit, [6]uint64{uint64(eid), uint64(untrustedSize)})
	if err != nil {
		return 0, defs.ErrDeviceMemoryMapError
	}
	return a0, defs.ErrNone
}

// finalizeArgs serializes RuntimeParams little-endian for the pointer
// argument: with eid + three physaddrs already filling four of the six
// registers, RuntimeParams's four fields are passed by reference rather
// than inlined, the same way a real `ecall` hands the monitor a pointer
// to any argument block too large for the register file.
func finalizeArgs(params RuntimeParams) []byte {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[0:8], params.RuntimeEntry)
	binary.LittleEndian.PutUint64(b[8:16], params.UserEntry)
	binary.LittleEndian.PutUint64(b[16:24], params.UntrustedPtr)
	binary.LittleEndian.PutUint64(b[24:32], params.UntrustedSize)
	return b[:]
}

func (s *SBI) FinalizeEnclave(eid uint16, runtimePaddr, userPaddr, freePaddr uint64, params RuntimeParams) defs.Err_t {
	buf := finalizeArgs(params)
	ptr := uint64(uintptr(unsafe.Pointer(&buf[0])))
	_, _, err := s.call(sbiExtKeystone, sbiFidFinalizeEnclave, [6]uint64{uint64(eid), runtimePaddr, userPaddr, freePaddr, ptr})
	if err != nil {
		return defs.ErrDeviceError
	}
	return defs.ErrNone
}

func (s *SBI) RunEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	a0, a1, err := s.call(sbiExtKeystone, sbiFidRunEnclave, [6]uint64{uint64(eid)})
	if err != nil {
		return defs.RunFatal, 0, defs.ErrDeviceError
	}
	return defs.RunStatus(a0), a1, defs.ErrNone
}

func (s *SBI) ResumeEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	a0, a1, err := s.call(sbiExtKeystone, sbiFidResumeEnclave, [6]uint64{uint64(eid)})
	if err != nil {
		return defs.RunFatal, 0, defs.ErrDeviceError
	}
	return defs.RunStatus(a0), a1, defs.ErrNone
}

func (s *SBI) DestroyEnclave(eid uint16) defs.Err_t {
	_, _, err := s.call(sbiExtKeystone, sbiFidDestroyEnclave, [6]uint64{uint64(eid)})
	if err != nil {
		return defs.ErrDeviceError
	}
	return defs.ErrNone
}
