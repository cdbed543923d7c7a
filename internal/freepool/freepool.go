// Package freepool implements the contiguous physical-page pool described
// in spec §4.2: a 2^order-page arena with a per-page allocated bit and a
// first-fit contiguous allocator. It is the teacher's mem.Physmem_t
// free-list design cut down from a global, multi-pmap, per-CPU allocator
// to the single contiguous per-enclave pool the spec calls for.
package freepool

import (
	"fmt"
	"math/bits"

	"github.com/keystone-riscv/enclave-host/internal/mem"
)

// FreePool is a contiguous run of 1<<order physical pages, each tracked by
// an allocated bit. Frames are contiguous in increasing address order
// (spec §3 Invariant).
type FreePool struct {
	order      uint
	allocated  []bool
	basePaddr  mem.Pa_t
	backing    []byte // only set by New; nil for NewAt
}

// New chooses order = ceil(log2(minPages)) + 1 (spec §4.2; the 2x
// over-allocation is a deliberately preserved Open Question, see
// DESIGN.md) and allocates 1<<order contiguous pages of ordinary process
// memory, suitable for the simulated backend.
func New(minPages int) *FreePool {
	if minPages <= 0 {
		panic("freepool: minPages must be positive")
	}
	order := uint(bits.Len(uint(minPages-1))) + 1
	npages := 1 << order
	backing := make([]byte, npages*mem.PGSIZE)
	return &FreePool{
		order:     order,
		allocated: make([]bool, npages),
		basePaddr: mem.Pa_t(pointerToUintptr(backing)),
		backing:   backing,
	}
}

// NewAt wraps a pool of minPages-rounded-to-order pages whose storage is
// owned elsewhere (e.g. the physical backend's device mapping), starting
// at base. Used by the physical (non-simulated) configuration.
func NewAt(minPages int, base mem.Pa_t) *FreePool {
	if minPages <= 0 {
		panic("freepool: minPages must be positive")
	}
	order := uint(bits.Len(uint(minPages-1))) + 1
	npages := 1 << order
	return &FreePool{
		order:     order,
		allocated: make([]bool, npages),
		basePaddr: base,
	}
}

// Order returns the pool's size exponent.
func (p *FreePool) Order() uint { return p.order }

// NumPages returns 1<<order, the total page capacity of the pool.
func (p *FreePool) NumPages() int { return len(p.allocated) }

// Size returns the pool's size in bytes.
func (p *FreePool) Size() int { return p.NumPages() * mem.PGSIZE }

// Base returns the physical address of page 0.
func (p *FreePool) Base() mem.Pa_t { return p.basePaddr }

// Contains reports whether paddr lies within [base, base+size).
func (p *FreePool) Contains(paddr mem.Pa_t) bool {
	return paddr >= p.basePaddr && paddr < p.basePaddr+mem.Pa_t(p.Size())
}

func (p *FreePool) indexOf(paddr mem.Pa_t) int {
	return int((paddr - p.basePaddr) / mem.Pa_t(mem.PGSIZE))
}

func (p *FreePool) paddrOf(idx int) mem.Pa_t {
	return p.basePaddr + mem.Pa_t(idx*mem.PGSIZE)
}

// Alloc returns the lowest-indexed contiguous run of n unallocated frames,
// marking them allocated, or false if no such run exists. Allocation never
// splits a previously-allocated run; first-fit (spec §4.2).
func (p *FreePool) Alloc(n int) (mem.Pa_t, bool) {
	if n <= 0 {
		panic("freepool: n must be positive")
	}
	run := 0
	for i := 0; i < len(p.allocated); i++ {
		if p.allocated[i] {
			run = 0
			continue
		}
		run++
		if run == n {
			start := i - n + 1
			for j := start; j <= i; j++ {
				p.allocated[j] = true
			}
			return p.paddrOf(start), true
		}
	}
	return 0, false
}

// AllocOne is a convenience wrapper over Alloc(1).
func (p *FreePool) AllocOne() (mem.Pa_t, bool) {
	return p.Alloc(1)
}

// FreePaddr returns the first unallocated frame's physical address, or
// false if the pool is full.
func (p *FreePool) FreePaddr() (mem.Pa_t, bool) {
	for i, used := range p.allocated {
		if !used {
			return p.paddrOf(i), true
		}
	}
	return 0, false
}

// Stats reports total and used page counts (observability aid; not part
// of the core allocation contract).
func (p *FreePool) Stats() (total, used int) {
	total = len(p.allocated)
	for _, b := range p.allocated {
		if b {
			used++
		}
	}
	return
}

func (p *FreePool) String() string {
	total, used := p.Stats()
	return fmt.Sprintf("freepool(base=%#x, order=%d, used=%d/%d)", p.basePaddr, p.order, used, total)
}

// ReadPhys returns the PGSIZE-byte page backing paddr, for use by
// internal/pagetable's read_phys/write_phys primitive. Only valid for
// simulated pools (NewAt pools are read/written through the platform's
// own mapping, not exposed here).
func (p *FreePool) ReadPhys(paddr mem.Pa_t) []byte {
	if p.backing == nil {
		panic("freepool: ReadPhys requires a simulated pool")
	}
	off := int(paddr - p.basePaddr)
	return p.backing[off : off+mem.PGSIZE]
}

// ReadPhysRange returns a live (non-copying) view of length contiguous
// bytes starting at paddr, spanning one or more pages. Since a pool's
// pages are always physically contiguous (spec §3 invariant), this is a
// plain subslice of the pool's backing storage.
func (p *FreePool) ReadPhysRange(paddr mem.Pa_t, length int) []byte {
	if p.backing == nil {
		panic("freepool: ReadPhysRange requires a simulated pool")
	}
	off := int(paddr - p.basePaddr)
	return p.backing[off : off+length]
}

func pointerToUintptr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(sliceAddr(b))
}
