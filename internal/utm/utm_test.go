package utm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

func TestNewRoundsSizeUpToPages(t *testing.T) {
	u, err := New(1)
	require.Equal(t, defs.ErrNone, err)
	require.Equal(t, mem.PGSIZE, u.Size)
}

func TestNewReservesEveryPageUpFront(t *testing.T) {
	u, _ := New(3 * mem.PGSIZE)
	require.Equal(t, 3*mem.PGSIZE, u.Size)
	_, ok := u.Pool.AllocOne()
	require.False(t, ok, "all UTM pages should already be reserved")
}

func TestSharedBufferAliasesBacking(t *testing.T) {
	u, _ := New(mem.PGSIZE)
	buf := u.SharedBuffer()
	buf[0] = 0x7a
	require.Equal(t, byte(0x7a), u.PageAt(0)[0])
}

func TestPageAtRejectsUnalignedOffset(t *testing.T) {
	u, _ := New(2 * mem.PGSIZE)
	require.Panics(t, func() { u.PageAt(1) })
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	require.Panics(t, func() { New(0) })
}
