// Package epm implements EpmMemory, the Enclave Private Memory owner from
// spec §3/§4.4: it holds the FreePool, the root page-table page, the
// bump-pointer cursor used for page-table interior nodes, and the region
// markers (runtime/eapp/free) that internal/measure's layout policy
// enforces. Grounded on the teacher's mem.Physmem_t, which plays the same
// "global owner of the pool + cursor state" role, cut down from a
// multi-pmap kernel allocator to the single enclave-scoped pool the spec
// describes.
package epm

import (
	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/freepool"
	"github.com/keystone-riscv/enclave-host/internal/mem"
	"github.com/keystone-riscv/enclave-host/internal/pagetable"
)

// EpmMemory owns the enclave's private pool, root page table, and the
// region boundaries Measurement relies on (spec §3 EpmMemory invariants).
type EpmMemory struct {
	Pool *freepool.FreePool

	RootPTPaddr mem.Pa_t
	cursor      mem.Pa_t

	RuntimeStartPaddr mem.Pa_t
	EappStartPaddr    mem.Pa_t
	FreeStartPaddr    mem.Pa_t

	UTMBasePaddr mem.Pa_t
	UTMSize      int

	PT *pagetable.PageTable

	utmPool *freepool.FreePool
}

// New reserves the root page-table page from pool (invariant (a): root <
// runtime_start, established here since cursor starts just past the
// root) and builds the PageTable walker over it.
func New(pool *freepool.FreePool, is32 bool) (*EpmMemory, defs.Err_t) {
	root, ok := pool.AllocOne()
	if !ok {
		return nil, defs.ErrPageAllocationFailure
	}
	e := &EpmMemory{
		Pool:        pool,
		RootPTPaddr: root,
		cursor:      root + mem.Pa_t(mem.PGSIZE),
	}
	e.PT = pagetable.New(root, e, is32)
	return e, defs.ErrNone
}

// ReadPage and AllocPage implement pagetable.Backend: PageTable draws
// interior-node pages from the same bump cursor ElfLoader uses for
// leaves, and reads pages straight out of the simulated pool's backing
// bytes (the UTM pool's, for a paddr inside it).
func (e *EpmMemory) ReadPage(paddr mem.Pa_t) []byte {
	if e.utmPool != nil && e.utmPool.Contains(paddr) {
		return e.utmPool.ReadPhys(mem.Pa_t(mem.PageDown(int(paddr))))
	}
	return e.Pool.ReadPhys(mem.Pa_t(mem.PageDown(int(paddr))))
}

func (e *EpmMemory) AllocPage() (mem.Pa_t, bool) {
	p := e.cursor
	if !e.Pool.Contains(p) {
		return 0, false
	}
	e.cursor += mem.Pa_t(mem.PGSIZE)
	page := e.ReadPage(p)
	for i := range page {
		page[i] = 0
	}
	return p, true
}

// AllocLeaf draws the next physical page from the bump cursor for use as
// a mapped leaf (spec §4.3 alloc_page "take the next physical page from
// the EPM bump cursor").
func (e *EpmMemory) AllocLeaf() (mem.Pa_t, bool) {
	return e.AllocPage()
}

// MapPage combines allocation, optional source copy, and PageTable
// installation (spec §4.3 alloc_page / §4.4 "Provides map_page(va, src,
// mode)").
func (e *EpmMemory) MapPage(va mem.Va_t, src []byte, mode mem.PageMode) (mem.Pa_t, defs.Err_t) {
	var leaf mem.Pa_t
	var ok bool
	if mode == mem.UTM_FULL {
		if src != nil {
			panic("epm: UTM_FULL mode must not copy a source buffer")
		}
		leaf, ok = e.allocUTMLeaf()
	} else {
		leaf, ok = e.AllocLeaf()
	}
	if !ok {
		return 0, defs.ErrPageAllocationFailure
	}
	if mode.CopiesSource() && src != nil {
		dst := e.ReadPage(leaf)
		n := copy(dst, src)
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
	}
	if !e.PT.Map(va, leaf, mode) {
		return 0, defs.ErrVSpaceAllocationFailure
	}
	return leaf, defs.ErrNone
}

func (e *EpmMemory) allocUTMLeaf() (mem.Pa_t, bool) {
	if e.utmPool == nil {
		return 0, false
	}
	return e.utmPool.AllocOne()
}

// AllocUTM delegates UTM sizing to the given backend pool (spec §4.4
// alloc_utm "delegates to the device/mock backend") and records the base
// and size for Measurement's classification checks.
func (e *EpmMemory) AllocUTM(pool *freepool.FreePool) {
	e.utmPool = pool
	e.UTMBasePaddr = pool.Base()
	e.UTMSize = pool.Size()
}

// MarkRuntime, MarkEapp, and MarkFree snapshot the bump cursor into the
// corresponding region marker (spec §4.4).
func (e *EpmMemory) MarkRuntime() { e.RuntimeStartPaddr = e.cursor }
func (e *EpmMemory) MarkEapp()    { e.EappStartPaddr = e.cursor }
func (e *EpmMemory) MarkFree()    { e.FreeStartPaddr = e.cursor }

// Cursor exposes the current bump pointer for diagnostics/tests.
func (e *EpmMemory) Cursor() mem.Pa_t { return e.cursor }
