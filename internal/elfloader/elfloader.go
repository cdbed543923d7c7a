// Package elfloader implements ElfLoader from spec §4.5: it drives an
// elfview.View and an epm.EpmMemory to place each PT_LOAD segment with
// correct permissions, alignment, zero-fill tail, plus the stack and UTM
// window mappings. Grounded on the teacher's vm/as.go Page_insert mapping
// discipline and kernel/chentry.go's segment/entry-point handling.
package elfloader

import (
	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/elfview"
	"github.com/keystone-riscv/enclave-host/internal/epm"
	"github.com/keystone-riscv/enclave-host/internal/mem"
	"github.com/keystone-riscv/enclave-host/internal/utm"
)

// Loader drives one ELF image's placement into one EpmMemory.
type Loader struct {
	View *elfview.View
	Epm  *epm.EpmMemory
	Mode mem.PageMode // RT_FULL or USER_FULL, selects the full-permission leaf mode for this image
}

// noexecMode returns the no-exec counterpart of l.Mode. The loader itself
// does not call it: zero-fill tail pages keep l.Mode, and InitStack maps
// USER_NOEXEC directly.
func (l *Loader) noexecMode() mem.PageMode {
	if l.Mode == mem.RT_FULL {
		return mem.RT_NOEXEC
	}
	return mem.USER_NOEXEC
}

// allocVspace pre-creates the interior page-table chain covering every
// PT_LOAD segment's page range (spec §4.9 step 3 "alloc_vspace +
// load_elf"), ahead of LoadSegments binding any leaves. WalkCreate would
// lazily build the same interior nodes on first MapPage, so this is
// purely a matter of doing the two named steps in the spec's literal
// order rather than folding alloc_vspace into the mapping call.
func (l *Loader) allocVspace() defs.Err_t {
	for i := 0; i < l.View.NumPhdrs(); i++ {
		ph, perr := l.View.Phdr(i)
		if perr != defs.ErrNone {
			return defs.ErrELFLoadFailure
		}
		if ph.Type != elfview.PT_LOAD {
			continue
		}
		start := mem.PageDown(int(ph.Vaddr))
		end := mem.PageUp(int(ph.Vaddr) + int(ph.Memsz))
		npages := (end - start) / mem.PGSIZE
		if l.Epm.PT.AllocVspace(mem.Va_t(start), npages) != npages {
			return defs.ErrVSpaceAllocationFailure
		}
	}
	return defs.ErrNone
}

// LoadSegments places every PT_LOAD segment of the view, per spec §4.5
// steps 1-5. The ELF's lowest PT_LOAD vaddr must be page-aligned
// (precondition); otherwise load fails with ErrELFLoadFailure.
func (l *Loader) LoadSegments() defs.Err_t {
	minVaddr, hasLoad := l.minVaddr()
	if hasLoad && mem.PageDown(int(minVaddr)) != int(minVaddr) {
		return defs.ErrELFLoadFailure
	}

	if err := l.allocVspace(); err != defs.ErrNone {
		return err
	}

	for i := 0; i < l.View.NumPhdrs(); i++ {
		ph, perr := l.View.Phdr(i)
		if perr != defs.ErrNone {
			return defs.ErrELFLoadFailure
		}
		if ph.Type != elfview.PT_LOAD {
			continue
		}
		if err := l.loadSegment(i, ph); err != defs.ErrNone {
			return err
		}
	}
	return defs.ErrNone
}

func (l *Loader) minVaddr() (uint64, bool) {
	min := uint64(0)
	found := false
	for i := 0; i < l.View.NumPhdrs(); i++ {
		ph, err := l.View.Phdr(i)
		if err != defs.ErrNone || ph.Type != elfview.PT_LOAD {
			continue
		}
		if !found || ph.Vaddr < min {
			min = ph.Vaddr
			found = true
		}
	}
	return min, found
}

func (l *Loader) loadSegment(i int, ph elfview.Phdr) defs.Err_t {
	segBytes, err := l.View.SegmentBytes(i)
	if err != defs.ErrNone {
		return defs.ErrELFLoadFailure
	}

	vaStart := int(ph.Vaddr)
	fileEnd := vaStart + len(segBytes)
	memEnd := vaStart + int(ph.Memsz)

	cur := vaStart

	// Step 2: pre-stage a leading partial page if vaStart is unaligned.
	if mem.PageDown(vaStart) != vaStart {
		pageStart := mem.PageDown(vaStart)
		intraOff := vaStart - pageStart
		scratch := make([]byte, mem.PGSIZE)
		n := copy(scratch[intraOff:], segBytes)
		if _, err := l.Epm.MapPage(mem.Va_t(pageStart), scratch, l.Mode); err != defs.ErrNone {
			return defs.ErrELFLoadFailure
		}
		consumed := mem.PGSIZE - intraOff
		if consumed > len(segBytes) {
			consumed = len(segBytes)
		}
		segBytes = segBytes[consumed:]
		cur = pageStart + mem.PGSIZE
	}

	// Step 3+4: full file-backed pages, plus one trailing partial page
	// when fileEnd falls inside a page.
	for cur < fileEnd {
		remaining := fileEnd - cur
		if remaining >= mem.PGSIZE {
			chunk := segBytes[:mem.PGSIZE]
			segBytes = segBytes[mem.PGSIZE:]
			if _, err := l.Epm.MapPage(mem.Va_t(cur), chunk, l.Mode); err != defs.ErrNone {
				return defs.ErrELFLoadFailure
			}
		} else {
			scratch := make([]byte, mem.PGSIZE)
			copy(scratch, segBytes)
			if _, err := l.Epm.MapPage(mem.Va_t(cur), scratch, l.Mode); err != defs.ErrNone {
				return defs.ErrELFLoadFailure
			}
			segBytes = nil
		}
		cur += mem.PGSIZE
	}

	// Step 5: zero-filled pages up to mem_end.
	for cur < memEnd {
		if _, err := l.Epm.MapPage(mem.Va_t(cur), nil, l.Mode); err != defs.ErrNone {
			return defs.ErrELFLoadFailure
		}
		cur += mem.PGSIZE
	}

	return defs.ErrNone
}

// InitStack maps size/PAGE_SIZE zeroed USER_NOEXEC pages ending at
// page_up(topVa) (spec §4.5 init_stack).
func (l *Loader) InitStack(topVa int, size int) defs.Err_t {
	top := mem.PageUp(topVa)
	npages := size / mem.PGSIZE
	start := top - npages*mem.PGSIZE
	for va := start; va < top; va += mem.PGSIZE {
		if _, err := l.Epm.MapPage(mem.Va_t(va), nil, mem.USER_NOEXEC); err != defs.ErrNone {
			return err
		}
	}
	return defs.ErrNone
}

// LoadUntrusted maps untrustedVa/untrustedSize, rounded outward, into the
// enclave VA space with UTM_FULL permissions (spec §4.5 load_untrusted).
// Each leaf is drawn from the UTM pool recorded on e by AllocUTM; u itself
// is not read.
func LoadUntrusted(e *epm.EpmMemory, u *utm.UtmMemory, untrustedVa int, untrustedSize int) defs.Err_t {
	start := mem.PageDown(untrustedVa)
	end := mem.PageUp(untrustedVa + untrustedSize)
	for va := start; va < end; va += mem.PGSIZE {
		if _, err := e.MapPage(mem.Va_t(va), nil, mem.UTM_FULL); err != defs.ErrNone {
			return err
		}
	}
	return defs.ErrNone
}
