package pagetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystone-riscv/enclave-host/internal/mem"
)

// mockBackend is a trivial in-process Backend for unit-testing the walker
// against a mock physical memory, per spec §9's design note.
type mockBackend struct {
	pages map[mem.Pa_t][]byte
	next  mem.Pa_t
}

func newMockBackend() *mockBackend {
	return &mockBackend{pages: make(map[mem.Pa_t][]byte), next: 0x1000}
}

func (b *mockBackend) ReadPage(paddr mem.Pa_t) []byte {
	aligned := paddr &^ mem.Pa_t(mem.PGSIZE-1)
	if p, ok := b.pages[aligned]; ok {
		return p
	}
	page := make([]byte, mem.PGSIZE)
	b.pages[aligned] = page
	return page
}

func (b *mockBackend) AllocPage() (mem.Pa_t, bool) {
	p := b.next
	b.next += mem.Pa_t(mem.PGSIZE)
	b.ReadPage(p) // materialize zeroed backing
	return p, true
}

func TestWalkCreateAllocatesInteriorNodes(t *testing.T) {
	backend := newMockBackend()
	root, _ := backend.AllocPage()
	pt := New(root, backend, false)

	slotPaddr, _, tablePaddr, ok := pt.WalkCreate(0x1000)
	require.True(t, ok)
	require.NotZero(t, slotPaddr)
	require.NotZero(t, tablePaddr)
	require.NotEqual(t, root, tablePaddr, "leaf table must not be the root for a 3-level walk")
}

func TestMapIsIdempotent(t *testing.T) {
	backend := newMockBackend()
	root, _ := backend.AllocPage()
	pt := New(root, backend, false)

	leaf, _ := backend.AllocPage()
	require.True(t, pt.Map(0x2000, leaf, mem.RT_FULL))

	// Mapping again with a different leaf must succeed without changing
	// the existing entry (spec §4.3 "if already V then return success").
	otherLeaf, _ := backend.AllocPage()
	require.True(t, pt.Map(0x2000, otherLeaf, mem.USER_FULL))

	got := pt.ReadLeaf(0x2000)
	require.Equal(t, leaf, got.PPN(), "second Map must not overwrite the first mapping")
}

func TestReadLeafUnmappedIsZero(t *testing.T) {
	backend := newMockBackend()
	root, _ := backend.AllocPage()
	pt := New(root, backend, false)

	pte := pt.ReadLeaf(0x9000)
	require.False(t, pte.Valid())
}

func TestMapRespectsPageMode(t *testing.T) {
	backend := newMockBackend()
	root, _ := backend.AllocPage()
	pt := New(root, backend, false)

	leaf, _ := backend.AllocPage()
	require.True(t, pt.Map(0x4000, leaf, mem.USER_NOEXEC))
	pte := pt.ReadLeaf(0x4000)
	require.True(t, pte.Valid())
	require.True(t, mem.Pa_t(pte)&mem.PTE_U != 0)
	require.True(t, mem.Pa_t(pte)&mem.PTE_X == 0)
}

func TestAllocVspacePreparesInteriorChainOnly(t *testing.T) {
	backend := newMockBackend()
	root, _ := backend.AllocPage()
	pt := New(root, backend, false)

	n := pt.AllocVspace(0x10000, 4)
	require.Equal(t, 4, n)
	for i := 0; i < 4; i++ {
		va := mem.Va_t(0x10000 + i*mem.PGSIZE)
		pte := pt.ReadLeaf(va)
		require.False(t, pte.Valid(), "alloc_vspace must not bind leaves")
	}
}

func TestSv32UsesTwoLevelsTenBits(t *testing.T) {
	backend := newMockBackend()
	root, _ := backend.AllocPage()
	pt := New(root, backend, true)
	require.Equal(t, 2, pt.Levels())
	// With 10 index bits, level 1 starts at bit 22 (9 bits would give 2).
	require.Equal(t, 1, pt.idx(mem.Va_t(1<<22), 1))
}
