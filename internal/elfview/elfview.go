// Package elfview implements the zero-copy ELF32/64 program-header view
// from spec §4.1. It is a hand-rolled parser rather than a wrapper around
// debug/elf: the spec requires precise Malformed/Truncated error kinds on
// truncation, magic mismatch, and out-of-range or wrapping tables, which
// debug/elf does not expose as a programmable contract. Field layout
// mirrors the same ELF header biscuit's kernel/chentry.go works with
// (magic, EI_DATA, e_phentsize/e_shentsize, e_shstrndx).
package elfview

import (
	"encoding/binary"

	"github.com/keystone-riscv/enclave-host/internal/defs"
)

const (
	magic0, magic1, magic2, magic3 = 0x7f, 'E', 'L', 'F'

	classOffset = 4
	class32     = 1
	class64     = 2

	dataOffset  = 5
	dataLSB     = 1

	ehsize32    = 52
	ehsize64    = 64

	// PT_LOAD is the only program-header type ElfLoader acts on.
	PT_LOAD = 1
)

// Phdr is a normalized program header, independent of 32/64-bit source
// width.
type Phdr struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// View is a read-only, restartable zero-copy view over an ELF image.
type View struct {
	data    []byte
	is64    bool
	entry   uint64
	phoff   uint64
	shoff   uint64
	phentsz uint16
	phnum   uint16
	shentsz uint16
	shnum   uint16
	shstrnd uint16
	machine uint16
}

// Parse validates the ELF header and program/section header tables and
// returns a View, or one of defs.ErrMalformed / defs.ErrTruncated.
func Parse(data []byte) (*View, defs.Err_t) {
	if len(data) < 16 {
		return nil, defs.ErrTruncated
	}
	if data[0] != magic0 || data[1] != magic1 || data[2] != magic2 || data[3] != magic3 {
		return nil, defs.ErrMalformed
	}
	is64 := data[classOffset] == class64
	if !is64 && data[classOffset] != class32 {
		return nil, defs.ErrMalformed
	}
	if data[dataOffset] != dataLSB {
		return nil, defs.ErrMalformed
	}

	v := &View{data: data, is64: is64}
	ehsize := ehsize32
	if is64 {
		ehsize = ehsize64
	}
	if len(data) < ehsize {
		return nil, defs.ErrTruncated
	}

	if is64 {
		v.entry = binary.LittleEndian.Uint64(data[24:32])
		v.phoff = binary.LittleEndian.Uint64(data[32:40])
		v.shoff = binary.LittleEndian.Uint64(data[40:48])
		v.machine = binary.LittleEndian.Uint16(data[18:20])
		v.phentsz = binary.LittleEndian.Uint16(data[54:56])
		v.phnum = binary.LittleEndian.Uint16(data[56:58])
		v.shentsz = binary.LittleEndian.Uint16(data[58:60])
		v.shnum = binary.LittleEndian.Uint16(data[60:62])
		v.shstrnd = binary.LittleEndian.Uint16(data[62:64])
	} else {
		v.entry = uint64(binary.LittleEndian.Uint32(data[24:28]))
		v.phoff = uint64(binary.LittleEndian.Uint32(data[28:32]))
		v.shoff = uint64(binary.LittleEndian.Uint32(data[32:36]))
		v.machine = binary.LittleEndian.Uint16(data[18:20])
		v.phentsz = binary.LittleEndian.Uint16(data[42:44])
		v.phnum = binary.LittleEndian.Uint16(data[44:46])
		v.shentsz = binary.LittleEndian.Uint16(data[46:48])
		v.shnum = binary.LittleEndian.Uint16(data[48:50])
		v.shstrnd = binary.LittleEndian.Uint16(data[50:52])
	}

	expectPhentsz := uint16(32)
	expectShentsz := uint16(40)
	if is64 {
		expectPhentsz, expectShentsz = 56, 64
	}
	if v.phnum > 0 && v.phentsz != expectPhentsz {
		return nil, defs.ErrMalformed
	}
	if v.shnum > 0 && v.shentsz != expectShentsz {
		return nil, defs.ErrMalformed
	}
	if v.shnum > 0 && v.shstrnd >= v.shnum {
		return nil, defs.ErrMalformed
	}

	if v.phnum > 0 {
		end, overflow := addOverflow(v.phoff, uint64(v.phnum)*uint64(v.phentsz))
		if overflow || end > uint64(len(data)) {
			return nil, defs.ErrTruncated
		}
	}
	if v.shnum > 0 {
		end, overflow := addOverflow(v.shoff, uint64(v.shnum)*uint64(v.shentsz))
		if overflow || end > uint64(len(data)) {
			return nil, defs.ErrTruncated
		}
	}

	return v, defs.ErrNone
}

func addOverflow(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

// Is64 reports whether the image is a 64-bit ELF.
func (v *View) Is64() bool { return v.is64 }

// Machine returns the raw e_machine field.
func (v *View) Machine() uint16 { return v.machine }

// EntryPoint returns the ELF entry point virtual address.
func (v *View) EntryPoint() uint64 { return v.entry }

// NumPhdrs returns the program header count.
func (v *View) NumPhdrs() int { return int(v.phnum) }

// Phdr returns the i'th program header, normalized to 64-bit fields.
func (v *View) Phdr(i int) (Phdr, defs.Err_t) {
	if i < 0 || i >= int(v.phnum) {
		return Phdr{}, defs.ErrMalformed
	}
	off := v.phoff + uint64(i)*uint64(v.phentsz)
	d := v.data[off:]
	var ph Phdr
	if v.is64 {
		ph.Type = binary.LittleEndian.Uint32(d[0:4])
		ph.Flags = binary.LittleEndian.Uint32(d[4:8])
		ph.Offset = binary.LittleEndian.Uint64(d[8:16])
		ph.Vaddr = binary.LittleEndian.Uint64(d[16:24])
		ph.Paddr = binary.LittleEndian.Uint64(d[24:32])
		ph.Filesz = binary.LittleEndian.Uint64(d[32:40])
		ph.Memsz = binary.LittleEndian.Uint64(d[40:48])
		ph.Align = binary.LittleEndian.Uint64(d[48:56])
	} else {
		ph.Type = binary.LittleEndian.Uint32(d[0:4])
		ph.Offset = uint64(binary.LittleEndian.Uint32(d[4:8]))
		ph.Vaddr = uint64(binary.LittleEndian.Uint32(d[8:12]))
		ph.Paddr = uint64(binary.LittleEndian.Uint32(d[12:16]))
		ph.Filesz = uint64(binary.LittleEndian.Uint32(d[16:20]))
		ph.Memsz = uint64(binary.LittleEndian.Uint32(d[20:24]))
		ph.Flags = binary.LittleEndian.Uint32(d[24:28])
		ph.Align = uint64(binary.LittleEndian.Uint32(d[28:32]))
	}

	end, overflow := addOverflow(ph.Offset, ph.Filesz)
	if overflow || end > uint64(len(v.data)) {
		return Phdr{}, defs.ErrTruncated
	}
	return ph, defs.ErrNone
}

// SegmentBytes returns the file-backed bytes of the i'th program header
// (length p_filesz, starting at p_offset).
func (v *View) SegmentBytes(i int) ([]byte, defs.Err_t) {
	ph, err := v.Phdr(i)
	if err != defs.ErrNone {
		return nil, err
	}
	return v.data[ph.Offset : ph.Offset+ph.Filesz], defs.ErrNone
}
