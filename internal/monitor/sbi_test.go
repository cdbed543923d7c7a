package monitor

import (
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/keystone-riscv/enclave-host/internal/defs"
)

func TestSBICreateEnclaveMarshalsRegisters(t *testing.T) {
	var gotExt, gotFid uint64
	var gotArgs [6]uint64
	sbi := NewSBI(func(ext, fid uint64, args [6]uint64) (uint64, uint64, error) {
		gotExt, gotFid, gotArgs = ext, fid, args
		return 7, 0x9000, nil
	})

	eid, pt, err := sbi.CreateEnclave(4)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, uint16(7), eid)
	require.Equal(t, uint64(0x9000), pt)
	require.Equal(t, sbiExtKeystone, gotExt)
	require.Equal(t, sbiFidCreateEnclave, gotFid)
	require.Equal(t, uint64(4), gotArgs[0])
}

func TestSBICreateEnclaveSurfacesCallerError(t *testing.T) {
	sbi := NewSBI(func(ext, fid uint64, args [6]uint64) (uint64, uint64, error) {
		return 0, 0, errors.New("ecall trapped")
	})
	_, _, err := sbi.CreateEnclave(4)
	require.Equal(t, defs.ErrDeviceInitFailure, err)
}

func TestSBIFinalizeEnclavePassesParamsByPointer(t *testing.T) {
	var gotArgs [6]uint64
	sbi := NewSBI(func(ext, fid uint64, args [6]uint64) (uint64, uint64, error) {
		gotArgs = args
		return 0, 0, nil
	})

	params := RuntimeParams{RuntimeEntry: 1, UserEntry: 2, UntrustedPtr: 3, UntrustedSize: 4}
	err := sbi.FinalizeEnclave(5, 0x1000, 0x2000, 0x3000, params)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, uint64(5), gotArgs[0])
	require.Equal(t, uint64(0x1000), gotArgs[1])
	require.Equal(t, uint64(0x2000), gotArgs[2])
	require.Equal(t, uint64(0x3000), gotArgs[3])

	ptr := unsafe.Pointer(uintptr(gotArgs[4]))
	buf := unsafe.Slice((*byte)(ptr), 32)
	require.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[0:8]))
	require.Equal(t, uint64(4), binary.LittleEndian.Uint64(buf[24:32]))
}

func TestSBIRunAndResumeDecodeStatus(t *testing.T) {
	sbi := NewSBI(func(ext, fid uint64, args [6]uint64) (uint64, uint64, error) {
		return uint64(defs.RunEdgeCallHost), 0x42, nil
	})
	status, value, err := sbi.RunEnclave(1)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, defs.RunEdgeCallHost, status)
	require.Equal(t, uint64(0x42), value)

	status, _, err = sbi.ResumeEnclave(1)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, defs.RunEdgeCallHost, status)
}

func TestSBIDestroyEnclaveSurfacesError(t *testing.T) {
	sbi := NewSBI(func(ext, fid uint64, args [6]uint64) (uint64, uint64, error) {
		return 0, 0, errors.New("destroy failed")
	})
	require.Equal(t, defs.ErrDeviceError, sbi.DestroyEnclave(1))
}
