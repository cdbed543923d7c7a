package edge

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Syscall numbers for the fixed relay set (spec §6 "Syscall relay carries
// a closed set").
const (
	SysOpenat SyscallNum = iota
	SysUnlinkat
	SysWrite
	SysRead
	SysFsync
	SysClose
	SysLseek
	SysFtruncate
	SysFstatat
)

// SyscallNum is the closed enumeration of relayed system calls.
type SyscallNum uint64

// EdgeSyscall is the payload pointed to by call_arg_offset when
// call_id == SYSCALL_ID (spec §3 EdgeSyscall frame): a syscall number
// followed by one of the SargsSys* structs below.
type EdgeSyscall struct {
	Num  SyscallNum
	Data []byte
}

func parseEdgeSyscall(arg []byte) (EdgeSyscall, Status) {
	if len(arg) < 8 {
		return EdgeSyscall{}, StatusBadOffset
	}
	return EdgeSyscall{Num: SyscallNum(binary.LittleEndian.Uint64(arg[0:8])), Data: arg[8:]}, StatusOK
}

// SargsOpenat is the fixed-layout argument struct for openat, in the style
// of the teacher's stat.Stat_t.
type SargsOpenat struct {
	DirFD   int64
	PathOff uint64
	PathLen uint64
	Flags   int64
	Mode    uint64
}

func parseSargsOpenat(b []byte) (SargsOpenat, Status) {
	if len(b) < 40 {
		return SargsOpenat{}, StatusBadOffset
	}
	return SargsOpenat{
		DirFD:   int64(binary.LittleEndian.Uint64(b[0:8])),
		PathOff: binary.LittleEndian.Uint64(b[8:16]),
		PathLen: binary.LittleEndian.Uint64(b[16:24]),
		Flags:   int64(binary.LittleEndian.Uint64(b[24:32])),
		Mode:    binary.LittleEndian.Uint64(b[32:40]),
	}, StatusOK
}

// SargsUnlinkat is the fixed-layout argument struct for unlinkat.
type SargsUnlinkat struct {
	DirFD   int64
	PathOff uint64
	PathLen uint64
	Flags   int64
}

func parseSargsUnlinkat(b []byte) (SargsUnlinkat, Status) {
	if len(b) < 32 {
		return SargsUnlinkat{}, StatusBadOffset
	}
	return SargsUnlinkat{
		DirFD:   int64(binary.LittleEndian.Uint64(b[0:8])),
		PathOff: binary.LittleEndian.Uint64(b[8:16]),
		PathLen: binary.LittleEndian.Uint64(b[16:24]),
		Flags:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}, StatusOK
}

// SargsRW is shared by write and read: both relay {fd, buf_offset,
// buf_len}.
type SargsRW struct {
	FD     int64
	BufOff uint64
	BufLen uint64
}

func parseSargsRW(b []byte) (SargsRW, Status) {
	if len(b) < 24 {
		return SargsRW{}, StatusBadOffset
	}
	return SargsRW{
		FD:     int64(binary.LittleEndian.Uint64(b[0:8])),
		BufOff: binary.LittleEndian.Uint64(b[8:16]),
		BufLen: binary.LittleEndian.Uint64(b[16:24]),
	}, StatusOK
}

// SargsFD is shared by fsync and close: both relay a bare {fd}.
type SargsFD struct {
	FD int64
}

func parseSargsFD(b []byte) (SargsFD, Status) {
	if len(b) < 8 {
		return SargsFD{}, StatusBadOffset
	}
	return SargsFD{FD: int64(binary.LittleEndian.Uint64(b[0:8]))}, StatusOK
}

// SargsLseek is the fixed-layout argument struct for lseek.
type SargsLseek struct {
	FD     int64
	Offset int64
	Whence int64
}

func parseSargsLseek(b []byte) (SargsLseek, Status) {
	if len(b) < 24 {
		return SargsLseek{}, StatusBadOffset
	}
	return SargsLseek{
		FD:     int64(binary.LittleEndian.Uint64(b[0:8])),
		Offset: int64(binary.LittleEndian.Uint64(b[8:16])),
		Whence: int64(binary.LittleEndian.Uint64(b[16:24])),
	}, StatusOK
}

// SargsFtruncate is the fixed-layout argument struct for ftruncate.
type SargsFtruncate struct {
	FD     int64
	Length int64
}

func parseSargsFtruncate(b []byte) (SargsFtruncate, Status) {
	if len(b) < 16 {
		return SargsFtruncate{}, StatusBadOffset
	}
	return SargsFtruncate{
		FD:     int64(binary.LittleEndian.Uint64(b[0:8])),
		Length: int64(binary.LittleEndian.Uint64(b[8:16])),
	}, StatusOK
}

// SargsFstatat is the fixed-layout argument struct for fstatat.
type SargsFstatat struct {
	DirFD   int64
	PathOff uint64
	PathLen uint64
	Flags   int64
}

func parseSargsFstatat(b []byte) (SargsFstatat, Status) {
	if len(b) < 32 {
		return SargsFstatat{}, StatusBadOffset
	}
	return SargsFstatat{
		DirFD:   int64(binary.LittleEndian.Uint64(b[0:8])),
		PathOff: binary.LittleEndian.Uint64(b[8:16]),
		PathLen: binary.LittleEndian.Uint64(b[16:24]),
		Flags:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}, StatusOK
}

// StatReply mirrors fstatat's return, reusing the teacher's stat.Stat_t
// field set (spec SPEC_FULL.md §4.8: "fstatat's reply reuses the same
// stat-structure layout as the teacher package").
type StatReply struct {
	Dev    uint64
	Ino    uint64
	Mode   uint64
	Size   uint64
	Rdev   uint64
	Uid    uint64
	Blocks uint64
	MSec   uint64
	MNsec  uint64
}

// Bytes serializes the reply little-endian, in the same layout the
// argument structs are parsed from.
func (s StatReply) Bytes() []byte {
	var b [72]byte
	binary.LittleEndian.PutUint64(b[0:8], s.Dev)
	binary.LittleEndian.PutUint64(b[8:16], s.Ino)
	binary.LittleEndian.PutUint64(b[16:24], s.Mode)
	binary.LittleEndian.PutUint64(b[24:32], s.Size)
	binary.LittleEndian.PutUint64(b[32:40], s.Rdev)
	binary.LittleEndian.PutUint64(b[40:48], s.Uid)
	binary.LittleEndian.PutUint64(b[48:56], s.Blocks)
	binary.LittleEndian.PutUint64(b[56:64], s.MSec)
	binary.LittleEndian.PutUint64(b[64:72], s.MNsec)
	return b[:]
}

func statReplyFrom(st *unix.Stat_t) StatReply {
	return StatReply{
		Dev:    uint64(st.Dev),
		Ino:    st.Ino,
		Mode:   uint64(st.Mode),
		Size:   uint64(st.Size),
		Rdev:   uint64(st.Rdev),
		Uid:    uint64(st.Uid),
		Blocks: uint64(st.Blocks),
		MSec:   uint64(st.Mtim.Sec),
		MNsec:  uint64(st.Mtim.Nsec),
	}
}

func putInt64Ret(shared []byte, f *CallFrame, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	SetupRet(shared, f, b[:])
}

// relaySyscall is the Handler wired into the reserved SYSCALL_ID slot: it
// decodes the EdgeSyscall payload, performs the real OS call via
// golang.org/x/sys/unix, and writes the integer (or struct) return into
// the response area (spec §6 "Syscall relay").
func relaySyscall(shared []byte, f *CallFrame) {
	arg, st := SliceAt(shared, f.CallArgOffset, f.CallArgSize)
	if st != StatusOK {
		f.CallStatus = st
		return
	}
	call, st := parseEdgeSyscall(arg)
	if st != StatusOK {
		f.CallStatus = st
		return
	}
	data := call.Data

	readPath := func(off, size uint64) (string, Status) {
		b, st := SliceAt(shared, off, size)
		if st != StatusOK {
			return "", st
		}
		return string(b), StatusOK
	}

	switch call.Num {
	case SysOpenat:
		a, st := parseSargsOpenat(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		path, st := readPath(a.PathOff, a.PathLen)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		fd, err := unix.Openat(int(a.DirFD), path, int(a.Flags), uint32(a.Mode))
		if err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, int64(fd))

	case SysUnlinkat:
		a, st := parseSargsUnlinkat(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		path, st := readPath(a.PathOff, a.PathLen)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		if err := unix.Unlinkat(int(a.DirFD), path, int(a.Flags)); err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, 0)

	case SysWrite:
		a, st := parseSargsRW(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		buf, st := SliceAt(shared, a.BufOff, a.BufLen)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		n, err := unix.Write(int(a.FD), buf)
		if err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, int64(n))

	case SysRead:
		a, st := parseSargsRW(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		buf, st := SliceAt(shared, a.BufOff, a.BufLen)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		n, err := unix.Read(int(a.FD), buf)
		if err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, int64(n))

	case SysFsync:
		a, st := parseSargsFD(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		if err := unix.Fsync(int(a.FD)); err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, 0)

	case SysClose:
		a, st := parseSargsFD(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		if err := unix.Close(int(a.FD)); err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, 0)

	case SysLseek:
		a, st := parseSargsLseek(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		off, err := unix.Seek(int(a.FD), a.Offset, int(a.Whence))
		if err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, off)

	case SysFtruncate:
		a, st := parseSargsFtruncate(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		if err := unix.Ftruncate(int(a.FD), a.Length); err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		putInt64Ret(shared, f, 0)

	case SysFstatat:
		a, st := parseSargsFstatat(data)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		path, st := readPath(a.PathOff, a.PathLen)
		if st != StatusOK {
			f.CallStatus = st
			return
		}
		var raw unix.Stat_t
		if err := unix.Fstatat(int(a.DirFD), path, &raw, int(a.Flags)); err != nil {
			f.CallStatus = StatusSyscallFailed
			return
		}
		SetupRet(shared, f, statReplyFrom(&raw).Bytes())

	default:
		f.CallStatus = StatusError
	}
}
