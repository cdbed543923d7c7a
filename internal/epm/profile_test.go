package epm

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/freepool"
	"github.com/keystone-riscv/enclave-host/internal/mem"
)

func TestWriteProfileEmitsGzippedPprofData(t *testing.T) {
	pool := freepool.New(16)
	e, err := New(pool, false)
	require.Equal(t, defs.ErrNone, err)

	e.MarkRuntime()
	e.MapPage(0x1000, nil, mem.RT_NOEXEC)
	e.MarkEapp()
	e.MapPage(0x2000, nil, mem.USER_NOEXEC)
	e.MarkFree()

	var buf bytes.Buffer
	require.NoError(t, e.WriteProfile(&buf))

	// pprof profiles are gzip-compressed protobuf; just confirm the
	// envelope decodes to a non-empty byte stream.
	gz, gerr := gzip.NewReader(&buf)
	require.NoError(t, gerr)
	defer gz.Close()
	raw, rerr := io.ReadAll(gz)
	require.NoError(t, rerr)
	require.NotEmpty(t, raw)
}
