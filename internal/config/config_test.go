package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault32DivergesFromDefault64(t *testing.T) {
	c32 := Default32()
	c64 := Default64()
	require.True(t, c32.Is32)
	require.False(t, c64.Is32)
	require.NotEqual(t, c32.UntrustedVA, c64.UntrustedVA)
	require.NotEqual(t, c32.StackSize, c64.StackSize)
	require.Equal(t, c64.Backend, c32.Backend)
}

func TestLoadWithoutPathReturnsBaseUnchanged(t *testing.T) {
	base := Default64()
	cfg, err := Load("", base)
	require.NoError(t, err)
	require.Equal(t, base, cfg)
}

func TestLoadMergesTOMLOverBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enclave.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime_path = "runtime.elf"
eapp_path = "eapp.elf"
untrusted_size = 16384
backend = "sbi"
`), 0o644))

	cfg, err := Load(path, Default64())
	require.NoError(t, err)
	require.Equal(t, "runtime.elf", cfg.RuntimePath)
	require.Equal(t, "eapp.elf", cfg.EappPath)
	require.Equal(t, 16384, cfg.UntrustedSize)
	require.Equal(t, BackendSBI, cfg.Backend)
	// Fields the TOML doesn't mention keep the base's defaults.
	require.Equal(t, Default64().StackTop, cfg.StackTop)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/enclave.toml", Default64())
	require.Error(t, err)
}

func TestValidateRequiresELFPaths(t *testing.T) {
	c := Default64()
	require.Error(t, c.Validate())
	c.RuntimePath = "r.elf"
	require.Error(t, c.Validate())
	c.EappPath = "e.elf"
	require.NoError(t, c.Validate())
}

func TestValidateRejectsNonPositiveUntrustedSize(t *testing.T) {
	c := Default64()
	c.RuntimePath, c.EappPath = "r.elf", "e.elf"
	c.UntrustedSize = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	c := Default64()
	c.RuntimePath, c.EappPath = "r.elf", "e.elf"
	c.Backend = "bogus"
	require.Error(t, c.Validate())
}

func TestValidateRequiresIoctlPathForIoctlBackend(t *testing.T) {
	c := Default64()
	c.RuntimePath, c.EappPath = "r.elf", "e.elf"
	c.Backend = BackendIoctl
	require.Error(t, c.Validate())
	c.IoctlPath = "/dev/keystone_enclave"
	require.NoError(t, c.Validate())
}
