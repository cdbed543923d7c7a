// Package edge implements EdgeTransport from spec §4.8: the EdgeCall/
// EdgeSyscall protocol laid over the first page of the shared UTM buffer,
// its pointer/offset translation discipline, the application dispatch
// table, and the fixed syscall relay.
//
// Grounded on the teacher's stat.Stat_t Bytes()-over-unsafe.Pointer
// pattern for fixed-layout wire structs, generalized from one struct to
// the whole EdgeCall/EdgeSyscall frame family.
package edge

import (
	"encoding/binary"
	"math"
)

// Status is EdgeTransport's own per-call result code (spec §7: distinct
// from defs.Err_t, never escalates into an enclave-fatal error).
type Status uint32

const (
	StatusOK Status = iota
	StatusBadCallID
	StatusBadOffset
	StatusBadPtr1 // pointer below shared_start
	StatusBadPtr2 // pointer past shared_start+shared_len
	StatusBadPtr3 // length overflow against the pointer
	StatusError
	StatusSyscallFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBadCallID:
		return "bad-call-id"
	case StatusBadOffset:
		return "bad-offset"
	case StatusBadPtr1, StatusBadPtr2, StatusBadPtr3:
		return "bad-ptr"
	case StatusSyscallFailed:
		return "syscall-failed"
	default:
		return "error"
	}
}

// MAX_EDGECALL application slots are registered by the host; SYSCALL_ID is
// the reserved call_id that routes to the syscall relay instead of the
// application table (spec §4.8 Dispatch).
const (
	MaxEdgecall = 16
	SyscallID   = MaxEdgecall + 1
)

const callFrameWords = 6 // call_id, arg_offset, arg_size, status, ret_offset, ret_size

// FrameSize is sizeof(EdgeCall) in bytes: six 64-bit words (spec §3 EdgeCall
// frame).
const FrameSize = callFrameWords * 8

// CallFrame is the EdgeCall header read from/written to byte offset 0 of
// the shared buffer (spec §3).
type CallFrame struct {
	CallID        uint64
	CallArgOffset uint64
	CallArgSize   uint64
	CallStatus    Status
	CallRetOffset uint64
	CallRetSize   uint64
}

// ParseFrame reads the header out of shared[0:FrameSize].
func ParseFrame(shared []byte) CallFrame {
	return CallFrame{
		CallID:        binary.LittleEndian.Uint64(shared[0:8]),
		CallArgOffset: binary.LittleEndian.Uint64(shared[8:16]),
		CallArgSize:   binary.LittleEndian.Uint64(shared[16:24]),
		CallStatus:    Status(binary.LittleEndian.Uint64(shared[24:32])),
		CallRetOffset: binary.LittleEndian.Uint64(shared[32:40]),
		CallRetSize:   binary.LittleEndian.Uint64(shared[40:48]),
	}
}

// Write serializes the frame back into shared[0:FrameSize].
func (f CallFrame) Write(shared []byte) {
	binary.LittleEndian.PutUint64(shared[0:8], f.CallID)
	binary.LittleEndian.PutUint64(shared[8:16], f.CallArgOffset)
	binary.LittleEndian.PutUint64(shared[16:24], f.CallArgSize)
	binary.LittleEndian.PutUint64(shared[24:32], uint64(f.CallStatus))
	binary.LittleEndian.PutUint64(shared[32:40], f.CallRetOffset)
	binary.LittleEndian.PutUint64(shared[40:48], f.CallRetSize)
}

// DataOffset is the offset the data area begins at: immediately past the
// header (spec §4.8 "data area begins at start + sizeof(EdgeCall)").
const DataOffset = FrameSize

// SliceAt is the offset→pointer conversion (spec §4.8): it returns the
// sub-slice of shared spanning [offset, offset+length), rejecting overflow
// or an out-of-bounds span.
func SliceAt(shared []byte, offset, length uint64) ([]byte, Status) {
	if length > math.MaxUint64-offset {
		return nil, StatusBadOffset
	}
	end := offset + length
	if end > uint64(len(shared)) {
		return nil, StatusBadOffset
	}
	return shared[offset:end], StatusOK
}

// OffsetOf is the pointer→offset conversion (spec §4.8), operating on a
// sub-slice known to originate from shared (e.g. one obtained from SliceAt
// or produced by a syscall relay writing into the buffer). ptr and length
// are validated against shared's bounds with the three BadPtr checks spec
// §4.8 names.
func OffsetOf(shared []byte, ptr []byte, length uint64) (uint64, Status) {
	base := sliceAddr(shared)
	p := sliceAddr(ptr)
	end := base + uint64(len(shared))

	if p < base {
		return 0, StatusBadPtr1
	}
	if p > end {
		return 0, StatusBadPtr2
	}
	if length > math.MaxUint64-p {
		return 0, StatusBadPtr3
	}
	if p+length > end {
		return 0, StatusBadPtr3
	}
	return p - base, StatusOK
}

// SetupRet lays out a plain return: ret data copied verbatim into the data
// area starting at DataOffset.
func SetupRet(shared []byte, f *CallFrame, data []byte) Status {
	dst, st := SliceAt(shared, DataOffset, uint64(len(data)))
	if st != StatusOK {
		return st
	}
	copy(dst, data)
	f.CallRetOffset = DataOffset
	f.CallRetSize = uint64(len(data))
	f.CallStatus = StatusOK
	return StatusOK
}

// SetupWrappedRet re-layers the data area so the callee sees a
// {size, offset} descriptor followed by the returned bytes (spec §4.8 "A
// wrapped return re-layers the data area").
func SetupWrappedRet(shared []byte, f *CallFrame, data []byte) Status {
	need := 16 + uint64(len(data))
	dst, st := SliceAt(shared, DataOffset, need)
	if st != StatusOK {
		return st
	}
	binary.LittleEndian.PutUint64(dst[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint64(dst[8:16], DataOffset+16)
	copy(dst[16:], data)
	f.CallRetOffset = DataOffset
	f.CallRetSize = need
	f.CallStatus = StatusOK
	return StatusOK
}
