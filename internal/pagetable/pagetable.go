// Package pagetable builds and walks the second-level (guest) page table
// described in spec §4.3: Sv39 (3 levels, 9 index bits per level) by
// default, Sv32 (2 levels, 10 index bits) under a 32-bit configuration.
//
// The walker is expressed over a Backend (read_phys/write_phys plus a
// page allocator) rather than raw pointers, per the teacher's own
// caddr/pgbits index-math style in mem/dmap.go and the spec's §9 design
// note that unsafe raw-address arithmetic must become arithmetic on
// physical-address integers plus a read/write primitive, so the walker
// stays unit-testable against a mock physical memory.
package pagetable

import (
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

// Sv39Bits and Sv32Bits select the addressing mode.
const (
	Sv39Bits = 39
	Sv32Bits = 32
)

// Backend is the physical-memory surface a PageTable needs: reading and
// writing whole pages, and allocating a fresh zeroed page for interior PT
// nodes (the EPM bump cursor, per spec §4.3 walk_create).
type Backend interface {
	ReadPage(paddr mem.Pa_t) []byte
	AllocPage() (mem.Pa_t, bool)
}

// PageTable is the Sv39/Sv32 second-level page-table builder and walker.
// It owns no storage of its own beyond the root pointer; all pages come
// from the Backend.
type PageTable struct {
	root    mem.Pa_t
	backend Backend
	levels  int
	idxBits uint
}

// New constructs a PageTable rooted at root (a page already reserved by
// the caller, per spec §4.4 "Root is one page owned by EpmMemory").
// is32 selects Sv32 (2 levels, 10-bit indices) instead of Sv39 (3 levels,
// 9-bit indices).
func New(root mem.Pa_t, backend Backend, is32 bool) *PageTable {
	pt := &PageTable{root: root, backend: backend}
	if is32 {
		pt.levels = 2
		pt.idxBits = 10
	} else {
		pt.levels = 3
		pt.idxBits = 9
	}
	return pt
}

// Root returns the physical address of the root page-table page.
func (pt *PageTable) Root() mem.Pa_t { return pt.root }

// Levels returns the number of page-table levels (3 for Sv39, 2 for Sv32).
func (pt *PageTable) Levels() int { return pt.levels }

// idx returns the index of va at level l: (va >> (PGSHIFT + l*idxBits)) &
// ((1<<idxBits)-1), per spec §4.3.
func (pt *PageTable) idx(va mem.Va_t, l int) int {
	shift := mem.PGSHIFT + uint(l)*pt.idxBits
	mask := (uint64(1) << pt.idxBits) - 1
	return int((uint64(va) >> shift) & mask)
}

// wordSize is the width of one PTE slot in a page-table page.
const wordSize = 8

func (pt *PageTable) readEntry(tablePaddr mem.Pa_t, i int) mem.PTE {
	page := pt.backend.ReadPage(tablePaddr)
	return mem.PTE(readWord(page, i))
}

func (pt *PageTable) writeEntry(tablePaddr mem.Pa_t, i int, e mem.PTE) {
	page := pt.backend.ReadPage(tablePaddr)
	writeWord(page, i, mem.Pa_t(e))
}

// WalkCreate resolves the physical address of the leaf slot for va,
// allocating and zeroing any missing interior page-table pages along the
// way (spec §4.3 walk_create). Returns false if a new interior page could
// not be allocated.
func (pt *PageTable) WalkCreate(va mem.Va_t) (slotPaddr mem.Pa_t, slotIdx int, tablePaddr mem.Pa_t, ok bool) {
	table := pt.root
	for l := pt.levels - 1; l >= 1; l-- {
		i := pt.idx(va, l)
		e := pt.readEntry(table, i)
		if !e.Valid() {
			child, allocated := pt.backend.AllocPage()
			if !allocated {
				return 0, 0, 0, false
			}
			pt.writeEntry(table, i, mem.MkPointer(child))
			table = child
			continue
		}
		table = e.PPN()
	}
	leafIdx := pt.idx(va, 0)
	return table + mem.Pa_t(leafIdx*wordSize), leafIdx, table, true
}

// ReadLeaf returns the PTE currently installed at va's leaf slot (the
// zero PTE if the table chain down to it does not exist yet). It never
// allocates.
func (pt *PageTable) ReadLeaf(va mem.Va_t) mem.PTE {
	table := pt.root
	for l := pt.levels - 1; l >= 1; l-- {
		e := pt.readEntry(table, pt.idx(va, l))
		if !e.Valid() {
			return 0
		}
		table = e.PPN()
	}
	return pt.readEntry(table, pt.idx(va, 0))
}

// Map installs leaf_paddr at va with the permissions mode dictates. If a
// valid entry already occupies the slot, Map is a no-op and succeeds
// (spec §4.3 "if already V then return success (idempotent)" — P6).
func (pt *PageTable) Map(va mem.Va_t, leafPaddr mem.Pa_t, mode mem.PageMode) bool {
	_, leafIdx, table, ok := pt.WalkCreate(va)
	if !ok {
		return false
	}
	if pt.readEntry(table, leafIdx).Valid() {
		return true
	}
	pt.writeEntry(table, leafIdx, mem.MkLeaf(leafPaddr, mode.LeafFlags()))
	return true
}

// AllocVspace creates intermediate PT nodes covering n consecutive pages
// starting at va, without binding any leaves (spec §4.3 alloc_vspace). It
// returns the count of pages for which the interior chain was
// successfully prepared, short-returning on the first allocation failure.
func (pt *PageTable) AllocVspace(va mem.Va_t, n int) int {
	prepared := 0
	for i := 0; i < n; i++ {
		cur := va + mem.Va_t(i*mem.PGSIZE)
		if _, _, _, ok := pt.WalkCreate(cur); !ok {
			break
		}
		prepared++
	}
	return prepared
}

func readWord(page []byte, i int) mem.Pa_t {
	off := i * wordSize
	var v uint64
	for b := 0; b < wordSize; b++ {
		v |= uint64(page[off+b]) << (8 * b)
	}
	return mem.Pa_t(v)
}

func writeWord(page []byte, i int, v mem.Pa_t) {
	off := i * wordSize
	vv := uint64(v)
	for b := 0; b < wordSize; b++ {
		page[off+b] = byte(vv >> (8 * b))
	}
}
