package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/keystone-riscv/enclave-host/internal/config"
	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/enclave"
	"github.com/keystone-riscv/enclave-host/internal/measure"
	"github.com/keystone-riscv/enclave-host/internal/monitor"
	"github.com/keystone-riscv/enclave-host/internal/registry"
)

// newBoundary constructs the MonitorBoundary selected by cfg.Backend. The
// sbi/ioctl cases wire in the real ecall/ioctl hooks once a target-
// specific build supplies them; until then they fail fast rather than
// silently behaving like the simulated backend.
func newBoundary(cfg config.Config, reg *registry.Registry) (monitor.Boundary, error) {
	switch cfg.Backend {
	case config.BackendSimulated:
		return monitor.NewSimulated(reg), nil
	case config.BackendSBI:
		return nil, fmt.Errorf("enclave-host: sbi backend requires a platform build with a wired SBICaller")
	case config.BackendIoctl:
		return nil, fmt.Errorf("enclave-host: ioctl backend requires a platform build with a wired IoctlFunc")
	default:
		return nil, fmt.Errorf("enclave-host: unknown backend %q", cfg.Backend)
	}
}

func build(cfg config.Config) (*enclave.Enclave, func(), error) {
	runtimeELF, err := os.ReadFile(cfg.RuntimePath)
	if err != nil {
		return nil, nil, fmt.Errorf("enclave-host: reading runtime ELF: %w", err)
	}
	eappELF, err := os.ReadFile(cfg.EappPath)
	if err != nil {
		return nil, nil, fmt.Errorf("enclave-host: reading eapp ELF: %w", err)
	}

	reg := registry.New()
	mon, err := newBoundary(cfg, reg)
	if err != nil {
		return nil, nil, err
	}

	params := enclave.Params{
		UntrustedVA:   cfg.UntrustedVA,
		UntrustedSize: cfg.UntrustedSize,
		UseFreemem:    cfg.UseFreemem,
		StackTop:      cfg.StackTop,
		StackSize:     cfg.StackSize,
		Is32:          cfg.Is32,
	}

	e, err := enclave.Init(runtimeELF, eappELF, params, mon, reg, measure.NewSHA3Sponge())
	if err != defs.ErrNone {
		return nil, nil, fmt.Errorf("enclave-host: init: %s", err)
	}
	slog.Info("enclave built", "id", e.ID(), "backend", cfg.Backend)
	if digest := e.Measurement(); digest != nil {
		slog.Info("enclave measured", "id", e.ID(), "digest", hex.EncodeToString(digest))
	}

	cleanup := func() {
		if derr := e.Destroy(); derr != defs.ErrNone {
			slog.Warn("enclave destroy failed", "id", e.ID(), "err", derr)
		}
	}
	return e, cleanup, nil
}

func runOnce(cfg config.Config) error {
	e, cleanup, err := build(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if path := os.Getenv("ENCLAVE_EPM_PROFILE"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			slog.Warn("epm profile: create failed", "err", err)
		} else {
			if err := e.Epm.WriteProfile(f); err != nil {
				slog.Warn("epm profile: write failed", "err", err)
			}
			f.Close()
		}
	}

	value, rerr := e.Run()
	if rerr != defs.ErrNone {
		return fmt.Errorf("enclave-host: run: %s", rerr)
	}
	slog.Info("enclave finished", "id", e.ID(), "value", value)
	fmt.Printf("enclave 0x%x done, return value 0x%x\n", e.ID(), value)
	return nil
}
