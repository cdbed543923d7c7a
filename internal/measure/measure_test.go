package measure

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

type fakeBackend struct {
	pages map[mem.Pa_t][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pages: make(map[mem.Pa_t][]byte)}
}

func (b *fakeBackend) ReadPage(paddr mem.Pa_t) []byte {
	if p, ok := b.pages[paddr]; ok {
		return p
	}
	p := make([]byte, mem.PGSIZE)
	b.pages[paddr] = p
	return p
}

func (b *fakeBackend) setEntry(tablePaddr mem.Pa_t, index int, pte mem.PTE) {
	page := b.ReadPage(tablePaddr)
	binary.LittleEndian.PutUint64(page[index*8:index*8+8], uint64(pte))
}

type fakeSponge struct {
	updates [][]byte
}

func (s *fakeSponge) Update(data []byte) {
	cp := append([]byte(nil), data...)
	s.updates = append(s.updates, cp)
}

func (s *fakeSponge) Finalize() []byte { return []byte("digest") }

func baseRegions() Regions {
	return Regions{
		EpmBase:      0x1000,
		EpmSize:      0x10000,
		RuntimeStart: 0x2000,
		EappStart:    0x3000,
		FreeStart:    0x4000,
		UtmBase:      0x8000,
		UtmSize:      0x2000,
	}
}

func TestValidateAcceptsLeafInRuntimeRegion(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	backend.setEntry(root, 0, mem.MkLeaf(0x2000, mem.RT_FULL.LeafFlags()))

	m := New(backend, root, true, baseRegions(), RuntimeParams{}, &fakeSponge{})
	digest, err := m.Run()
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, []byte("digest"), digest)
}

func TestValidateRejectsLeafOutsideEpmAndUtm(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	backend.setEntry(root, 0, mem.MkLeaf(0x50000, mem.RT_FULL.LeafFlags()))

	m := New(backend, root, true, baseRegions(), RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateRejectsNonLeafOutsideEpm(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	// Interior pointer to a table paddr outside the EPM region.
	backend.setEntry(root, 0, mem.MkPointer(0x50000))

	regions := baseRegions()
	m := New(backend, root, false, regions, RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateRejectsMissingUserBitInEappRegion(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	// Leaf inside [EappStart, FreeStart) but lacking PTE_U.
	leafFlags := mem.PTE_R | mem.PTE_W | mem.PTE_A | mem.PTE_D | mem.PTE_V
	backend.setEntry(root, 0, mem.MkLeaf(0x3000, leafFlags))

	m := New(backend, root, true, baseRegions(), RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateRejectsUntrustedWindowNotUtm(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	regions := baseRegions()
	regions.UntrustedVA = 0x2000
	regions.UntrustedSize = 0x1000
	// This leaf lands at vaddr 0 (index 0, top level), which is not the
	// untrusted window, so use index 2 to target vaddr 0x2000.
	backend.setEntry(root, 2, mem.MkLeaf(0x2000, mem.RT_FULL.LeafFlags()))

	m := New(backend, root, true, regions, RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateRejectsNonMonotonicRuntimePaddr(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	// Index 0 maps a higher paddr, index 1 a lower one: runtime_max_seen
	// must strictly increase across the walk. The runtime region is widened
	// to two pages so both leaves are page-aligned and inside it.
	regions := baseRegions()
	regions.EappStart, regions.FreeStart = 0x4000, 0x5000
	backend.setEntry(root, 0, mem.MkLeaf(0x3000, mem.RT_FULL.LeafFlags()))
	backend.setEntry(root, 1, mem.MkLeaf(0x2000, mem.RT_FULL.LeafFlags()))

	m := New(backend, root, true, regions, RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateRejectsNonMonotonicUserPaddr(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	// Same out-of-order check as the runtime region, but for the eapp
	// (user) region: index 0 maps a higher paddr, index 1 a lower one.
	regions := baseRegions()
	regions.FreeStart = 0x5000
	backend.setEntry(root, 0, mem.MkLeaf(0x4000, mem.USER_FULL.LeafFlags()))
	backend.setEntry(root, 1, mem.MkLeaf(0x3000, mem.USER_FULL.LeafFlags()))

	m := New(backend, root, true, regions, RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateRejectsUtmLeafAboveLevelZero(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	regions := baseRegions()
	// is32 = true puts the root at level 1 (top); a UTM-region leaf placed
	// directly at the top level violates "in_utm only permitted at level 1".
	backend.setEntry(root, 0, mem.MkLeaf(regions.UtmBase, mem.UTM_FULL.LeafFlags()))

	m := New(backend, root, true, regions, RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrInvalidEnclave, err)
}

func TestValidateAcceptsUtmLeafAtLevelZero(t *testing.T) {
	backend := newFakeBackend()
	const root mem.Pa_t = 0x1000
	const mid mem.Pa_t = 0x5000
	const leafTable mem.Pa_t = 0x6000
	regions := baseRegions()
	regions.EpmSize = 0x7000 // EPM [0x1000, 0x8000) ends where UTM begins

	// Three-level sv39 walk: root (level 2) -> mid (level 1) -> leafTable
	// (level 0), where the level-0 entry is the only place a UTM leaf may
	// legally appear.
	backend.setEntry(root, 0, mem.MkPointer(mid))
	backend.setEntry(mid, 0, mem.MkPointer(leafTable))
	backend.setEntry(leafTable, 0, mem.MkLeaf(regions.UtmBase, mem.UTM_FULL.LeafFlags()))

	m := New(backend, root, false, regions, RuntimeParams{}, &fakeSponge{})
	_, err := m.Run()
	require.Equal(t, defs.ErrNone, err)
}

func TestRuntimeParamsBytesLayout(t *testing.T) {
	p := RuntimeParams{RuntimeEntry: 1, UserEntry: 2, UntrustedPtr: 3, UntrustedSize: 4}
	b := p.Bytes()
	require.Len(t, b, 32)
	require.Equal(t, uint64(1), binary.LittleEndian.Uint64(b[0:8]))
	require.Equal(t, uint64(4), binary.LittleEndian.Uint64(b[24:32]))
}

func TestSignExtendSetsUpperBitsWhenSignBitSet(t *testing.T) {
	v := signExtend(0x3ff, 10) // all ten bits set: sign bit set
	require.Equal(t, ^uint64(0), v)
}

func TestSignExtendLeavesValueWhenSignBitClear(t *testing.T) {
	v := signExtend(0x1ff, 10)
	require.Equal(t, uint64(0x1ff), v)
}

func TestRunIsDeterministicForIdenticalLayouts(t *testing.T) {
	regions := baseRegions()
	params := RuntimeParams{RuntimeEntry: 1, UserEntry: 2}

	build := func() ([]byte, defs.Err_t) {
		backend := newFakeBackend()
		const root mem.Pa_t = 0x1000
		backend.setEntry(root, 0, mem.MkLeaf(0x2000, mem.RT_FULL.LeafFlags()))
		m := New(backend, root, true, regions, params, NewSHA3Sponge())
		return m.Run()
	}

	d1, err1 := build()
	require.Equal(t, defs.ErrNone, err1)
	d2, err2 := build()
	require.Equal(t, defs.ErrNone, err2)
	require.Equal(t, d1, d2)
	require.Len(t, d1, MDSIZE)
}

func TestRunDigestChangesWithPageContents(t *testing.T) {
	regions := baseRegions()
	params := RuntimeParams{}

	digestFor := func(payload byte) []byte {
		backend := newFakeBackend()
		const root mem.Pa_t = 0x1000
		backend.setEntry(root, 0, mem.MkLeaf(0x2000, mem.RT_FULL.LeafFlags()))
		page := backend.ReadPage(0x2000)
		page[0] = payload
		m := New(backend, root, true, regions, params, NewSHA3Sponge())
		d, _ := m.Run()
		return d
	}

	require.NotEqual(t, digestFor(0x01), digestFor(0x02))
}
