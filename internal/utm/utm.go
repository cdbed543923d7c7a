// Package utm implements UtmMemory, the Untrusted Memory owner from spec
// §3/§4.6: a contiguous pool of pages shared with host userland, with no
// page table of its own (it is mapped into the enclave's VA space through
// the guest PageTable with UTM_FULL permissions, not through any table it
// owns). Grounded on the teacher's circbuf.Circbuf_t, which plays the same
// "headless shared buffer, backed by an external page allocator" role.
package utm

import (
	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/freepool"
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

// UtmMemory is a FreePool of ceil(untrustedSize/PAGE) contiguous pages.
// The first page holds the EdgeCall frame; the remainder is data area
// (spec §4.6).
type UtmMemory struct {
	Pool *freepool.FreePool
	Size int
}

// New allocates a UTM pool sized to hold untrustedSize bytes, rounded up
// to a whole number of pages.
func New(untrustedSize int) (*UtmMemory, defs.Err_t) {
	if untrustedSize <= 0 {
		panic("utm: size must be positive")
	}
	npages := (untrustedSize + mem.PGSIZE - 1) / mem.PGSIZE
	pool := freepool.New(npages)
	// Reserve every page up front: UTM is a flat shared window, not an
	// incrementally-grown allocator.
	for i := 0; i < npages; i++ {
		if _, ok := pool.AllocOne(); !ok {
			return nil, defs.ErrDeviceMemoryMapError
		}
	}
	return &UtmMemory{Pool: pool, Size: npages * mem.PGSIZE}, defs.ErrNone
}

// SharedBuffer returns a live view of the full UTM window, backing the
// EdgeCall frame at offset 0 (simulated backend only). Mutations through
// this slice are visible to both the host and the simulated enclave side,
// matching the real UTM's single physically-shared buffer.
func (u *UtmMemory) SharedBuffer() []byte {
	return u.Pool.ReadPhysRange(u.Pool.Base(), u.Size)
}

// PageAt returns the single PGSIZE-byte page at byte offset off within
// the UTM window (off must be page-aligned).
func (u *UtmMemory) PageAt(off int) []byte {
	if off%mem.PGSIZE != 0 {
		panic("utm: unaligned page offset")
	}
	return u.Pool.ReadPhys(u.Pool.Base() + mem.Pa_t(off))
}
