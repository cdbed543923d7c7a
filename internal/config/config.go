// Package config loads host-side parameters for cmd/enclave-host: ELF
// paths, untrusted VA/size, stack sizing, and which MonitorBoundary
// backend to use. Bound from an optional TOML file merged with flags
// (spec SPEC_FULL.md §2 "config [EXPANSION]").
//
// The teacher never reads configuration (a kernel has none to read), so
// this package is grounded in the rest of the retrieval pack rather than
// in biscuit itself; see DESIGN.md.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Backend selects which MonitorBoundary implementation to construct.
type Backend string

const (
	BackendSimulated Backend = "simulated"
	BackendSBI       Backend = "sbi"
	BackendIoctl     Backend = "ioctl"
)

// Config is the full set of host-side parameters spec.md §6's Environment
// section names defaults for.
type Config struct {
	RuntimePath string `toml:"runtime_path"`
	EappPath    string `toml:"eapp_path"`

	UntrustedVA   uint64 `toml:"untrusted_va"`
	UntrustedSize int    `toml:"untrusted_size"`

	StackTop  int `toml:"stack_top"`
	StackSize int `toml:"stack_size"`

	UseFreemem bool `toml:"use_freemem"`
	Is32       bool `toml:"is32"`

	Backend   Backend `toml:"backend"`
	IoctlPath string  `toml:"ioctl_path"` // device node, only used when Backend == ioctl
}

// Default64 returns the spec §6 Environment defaults for a 64-bit
// (Sv39) target.
func Default64() Config {
	return Config{
		UntrustedVA:   0xffffffff80000000,
		UntrustedSize: 8192,
		StackTop:      0x40000000,
		StackSize:     16 * 1024,
		UseFreemem:    true,
		Is32:          false,
		Backend:       BackendSimulated,
	}
}

// Default32 returns the spec §6 Environment defaults for a 32-bit
// (Sv32) target.
func Default32() Config {
	c := Default64()
	c.UntrustedVA = 0x80000000
	c.StackSize = 8 * 1024
	c.Is32 = true
	return c
}

// Load reads a TOML file at path into a copy of base, overriding only the
// keys present in the file.
func Load(path string, base Config) (Config, error) {
	cfg := base
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields required to run EnclaveLifecycle.Init are
// present.
func (c Config) Validate() error {
	if c.RuntimePath == "" {
		return fmt.Errorf("config: runtime_path is required")
	}
	if c.EappPath == "" {
		return fmt.Errorf("config: eapp_path is required")
	}
	if c.UntrustedSize <= 0 {
		return fmt.Errorf("config: untrusted_size must be positive")
	}
	switch c.Backend {
	case BackendSimulated, BackendSBI, BackendIoctl:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Backend == BackendIoctl && c.IoctlPath == "" {
		return fmt.Errorf("config: ioctl_path is required for the ioctl backend")
	}
	return nil
}
