package epm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/freepool"
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

func TestNewReservesRootBeforeCursor(t *testing.T) {
	pool := freepool.New(16)
	e, err := New(pool, false)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, pool.Base(), e.RootPTPaddr)
	require.Equal(t, e.RootPTPaddr+mem.Pa_t(mem.PGSIZE), e.Cursor())
}

func TestMapPageCopiesSourceForFullModes(t *testing.T) {
	pool := freepool.New(16)
	e, _ := New(pool, false)

	src := make([]byte, mem.PGSIZE)
	src[0] = 0xab
	leaf, err := e.MapPage(0x1000, src, mem.RT_FULL)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, byte(0xab), e.ReadPage(leaf)[0])

	pte := e.PT.ReadLeaf(0x1000)
	require.True(t, pte.Valid())
	require.Equal(t, leaf, pte.PPN())
}

func TestMapPageZerosOnNilSource(t *testing.T) {
	pool := freepool.New(16)
	e, _ := New(pool, false)

	leaf, err := e.MapPage(0x2000, nil, mem.USER_NOEXEC)
	require.Equal(t, defs.ErrNone, err)
	page := e.ReadPage(leaf)
	for _, b := range page {
		require.Equal(t, byte(0), b)
	}
}

func TestMapPageUTMFullRejectsSource(t *testing.T) {
	pool := freepool.New(16)
	e, _ := New(pool, false)
	e.AllocUTM(freepool.New(4))

	require.Panics(t, func() {
		e.MapPage(0x3000, make([]byte, mem.PGSIZE), mem.UTM_FULL)
	})
}

func TestMapPageUTMFullDrawsFromUTMPool(t *testing.T) {
	pool := freepool.New(16)
	e, _ := New(pool, false)
	utmPool := freepool.New(4)
	e.AllocUTM(utmPool)

	leaf, err := e.MapPage(0x4000, nil, mem.UTM_FULL)
	require.Equal(t, defs.ErrNone, err)
	require.True(t, utmPool.Contains(leaf))
	require.False(t, pool.Contains(leaf))
}

func TestMarkersSnapshotCursor(t *testing.T) {
	pool := freepool.New(16)
	e, _ := New(pool, false)

	e.MarkRuntime()
	runtimeStart := e.RuntimeStartPaddr
	e.MapPage(0x5000, nil, mem.RT_FULL)
	e.MarkEapp()
	require.NotEqual(t, runtimeStart, e.EappStartPaddr)
	require.Equal(t, e.Cursor(), e.EappStartPaddr)
}
