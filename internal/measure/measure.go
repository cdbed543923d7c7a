// Package measure implements Measurement from spec §4.7: the recursive
// validate-and-hash walk over the constructed page tables that enforces
// the layout invariants and emits a digest. It runs only in the simulated
// backend, before MonitorBoundary.create/finalize.
//
// Grounded on the teacher's mem.go _pmcount, the one place in biscuit that
// already recursively walks a page-table tree counting present user
// entries; this package generalizes that same recursion shape (iterate
// 512/1024 slots, classify V/U, recurse into non-leaves) into a
// classifying, hashing walk.
package measure

import (
	"encoding/binary"

	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

// MDSIZE is the digest size in bytes emitted by Finalize.
const MDSIZE = 32

// HashSponge is the opaque streaming hash the platform supplies (spec
// §2 HashSponge): update/finalize only, nothing about the underlying
// permutation is part of this package's contract.
type HashSponge interface {
	Update(data []byte)
	Finalize() []byte
}

// RuntimeParams is pre-pended into the sponge before the page-table walk
// (spec §4.7 "Pre-pends RuntimeParams bytes into the sponge").
type RuntimeParams struct {
	RuntimeEntry  uint64
	UserEntry     uint64
	UntrustedPtr  uint64
	UntrustedSize uint64
}

// Bytes serializes RuntimeParams little-endian, four 64-bit words.
func (p RuntimeParams) Bytes() []byte {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[0:8], p.RuntimeEntry)
	binary.LittleEndian.PutUint64(b[8:16], p.UserEntry)
	binary.LittleEndian.PutUint64(b[16:24], p.UntrustedPtr)
	binary.LittleEndian.PutUint64(b[24:32], p.UntrustedSize)
	return b[:]
}

// Backend is the read-only page-memory surface Measurement walks.
type Backend interface {
	ReadPage(paddr mem.Pa_t) []byte
}

// Regions carries every boundary Measurement's layout policy checks
// against (spec §4.7 Inputs).
type Regions struct {
	EpmBase mem.Pa_t
	EpmSize int

	RuntimeStart mem.Pa_t
	EappStart    mem.Pa_t
	FreeStart    mem.Pa_t

	UtmBase mem.Pa_t
	UtmSize int

	UntrustedVA   uint64
	UntrustedSize uint64
}

// Measurer walks one enclave's page tables once and produces a digest.
type Measurer struct {
	backend Backend
	root    mem.Pa_t
	levels  int
	idxBits uint
	regions Regions
	sponge  HashSponge
	params  RuntimeParams

	contiguous     bool
	haveRuntimeMax bool
	runtimeMaxSeen mem.Pa_t
	haveUserMax    bool
	userMaxSeen    mem.Pa_t
}

// New constructs a Measurer for one validate-and-hash pass. is32 selects
// Sv32 (2 levels, 10-bit indices) instead of Sv39 (3 levels, 9-bit
// indices), matching internal/pagetable's level/index-width choice.
func New(backend Backend, root mem.Pa_t, is32 bool, regions Regions, params RuntimeParams, sponge HashSponge) *Measurer {
	m := &Measurer{backend: backend, root: root, regions: regions, sponge: sponge, params: params, contiguous: true}
	if is32 {
		m.levels, m.idxBits = 2, 10
	} else {
		m.levels, m.idxBits = 3, 9
	}
	return m
}

// Run performs the walk and returns the MDSIZE-byte digest, or
// ErrInvalidEnclave if any layout invariant is violated (spec §4.7 "Any
// rejected condition aborts with InvalidEnclave").
func (m *Measurer) Run() ([]byte, defs.Err_t) {
	m.sponge.Update(m.params.Bytes())
	if err := m.validate(m.levels-1, m.root, 0); err != defs.ErrNone {
		return nil, err
	}
	return m.sponge.Finalize(), defs.ErrNone
}

const wordSize = 8

func (m *Measurer) entries() int { return mem.PGSIZE / wordSize }

func (m *Measurer) readEntry(tablePaddr mem.Pa_t, i int) mem.PTE {
	page := m.backend.ReadPage(tablePaddr)
	off := i * wordSize
	var v uint64
	for b := 0; b < wordSize; b++ {
		v |= uint64(page[off+b]) << (8 * b)
	}
	return mem.PTE(v)
}

func (m *Measurer) validate(level int, tablePaddr mem.Pa_t, partial uint64) defs.Err_t {
	isTop := level == m.levels-1
	for i := 0; i < m.entries(); i++ {
		pte := m.readEntry(tablePaddr, i)

		var childPartial uint64
		if isTop {
			childPartial = signExtend(uint64(i), m.idxBits)
		} else {
			childPartial = (partial << m.idxBits) | uint64(i)
		}

		if !pte.Valid() {
			m.contiguous = false
			continue
		}

		childPaddr := pte.PPN()
		inEpm := m.inEpm(childPaddr)
		inUtm := m.inUtm(childPaddr)

		if pte.Leaf() {
			if !inEpm && !inUtm {
				return defs.ErrInvalidEnclave
			}
			if inUtm && level != 0 {
				return defs.ErrInvalidEnclave
			}
			vaddr := childPartial << mem.PGSHIFT
			if err := m.validateLeaf(vaddr, childPaddr, inEpm, inUtm, pte); err != defs.ErrNone {
				return err
			}
			continue
		}

		if !inEpm {
			return defs.ErrInvalidEnclave
		}
		if err := m.validate(level-1, childPaddr, childPartial); err != defs.ErrNone {
			return err
		}
	}
	return defs.ErrNone
}

func (m *Measurer) validateLeaf(vaddr uint64, paddr mem.Pa_t, inEpm, inUtm bool, pte mem.PTE) defs.Err_t {
	if inEpm && m.inUserRegion(paddr) && mem.Pa_t(pte)&mem.PTE_U == 0 {
		return defs.ErrInvalidEnclave
	}
	if m.inUntrustedWindow(vaddr) && !inUtm {
		return defs.ErrInvalidEnclave
	}

	if inEpm {
		switch {
		case paddr >= m.regions.RuntimeStart && paddr < m.regions.EappStart:
			if m.haveRuntimeMax && paddr <= m.runtimeMaxSeen {
				return defs.ErrInvalidEnclave
			}
			m.runtimeMaxSeen = paddr
			m.haveRuntimeMax = true
		case paddr >= m.regions.EappStart && paddr < m.regions.FreeStart:
			if m.haveUserMax && paddr <= m.userMaxSeen {
				return defs.ErrInvalidEnclave
			}
			m.userMaxSeen = paddr
			m.haveUserMax = true
		case paddr >= m.regions.FreeStart:
			return defs.ErrInvalidEnclave
		}
	}

	if !m.contiguous {
		var vb [8]byte
		binary.LittleEndian.PutUint64(vb[:], vaddr)
		m.sponge.Update(vb[:])
	}
	m.sponge.Update(m.backend.ReadPage(paddr))
	m.contiguous = true
	return defs.ErrNone
}

func (m *Measurer) inEpm(paddr mem.Pa_t) bool {
	return paddr >= m.regions.EpmBase && paddr < m.regions.EpmBase+mem.Pa_t(m.regions.EpmSize)
}

func (m *Measurer) inUtm(paddr mem.Pa_t) bool {
	return paddr >= m.regions.UtmBase && paddr < m.regions.UtmBase+mem.Pa_t(m.regions.UtmSize)
}

func (m *Measurer) inUserRegion(paddr mem.Pa_t) bool {
	return paddr >= m.regions.EappStart && paddr < m.regions.FreeStart
}

func (m *Measurer) inUntrustedWindow(vaddr uint64) bool {
	start := pageDown64(m.regions.UntrustedVA)
	end := pageUp64(m.regions.UntrustedVA + m.regions.UntrustedSize)
	return vaddr >= start && vaddr < end
}

func pageDown64(v uint64) uint64 { return v &^ uint64(mem.PGSIZE-1) }
func pageUp64(v uint64) uint64   { return pageDown64(v + uint64(mem.PGSIZE) - 1) }

// signExtend sign-extends the low `bits` of v to a full 64-bit value,
// producing the canonical-form virtual address the top-level index
// implies (spec §4.7 "applying canonical-form sign extension when at the
// top level and the high bit of i is set").
func signExtend(v uint64, bits uint) uint64 {
	signBit := uint64(1) << (bits - 1)
	if v&signBit != 0 {
		return v | (^uint64(0) << bits)
	}
	return v
}
