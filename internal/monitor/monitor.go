// Package monitor implements MonitorBoundary from spec §2/§4.10: the
// opaque "call the Secure Monitor with this arg block" contract, with
// three concrete backends selected by config (internal/config).
//
// Grounded on the teacher's defs.Err_t-everywhere discipline for the
// command/return-code vocabulary, and on original_source's
// keystone-rust-sdk/src/host/ioctl.rs for the Ioctl backend's shape.
package monitor

import "github.com/keystone-riscv/enclave-host/internal/defs"

// RuntimeParams mirrors internal/measure.RuntimeParams without importing
// it, keeping monitor free of a dependency on the measurement package;
// internal/enclave converts between the two at the one call site that
// needs both.
type RuntimeParams struct {
	RuntimeEntry  uint64
	UserEntry     uint64
	UntrustedPtr  uint64
	UntrustedSize uint64
}

// Boundary is the monitor command set from spec §6, one method per row of
// the command table.
type Boundary interface {
	// CreateEnclave corresponds to CREATE_ENCLAVE { min_pages } -> { eid, pt_ptr }.
	CreateEnclave(minPages int) (eid uint16, ptPaddr uint64, err defs.Err_t)

	// UTMInit corresponds to UTM_INIT { eid, untrusted_size } -> { utm_free_ptr }.
	UTMInit(eid uint16, untrustedSize int) (utmFreePaddr uint64, err defs.Err_t)

	// FinalizeEnclave corresponds to FINALIZE_ENCLAVE { eid, runtime_paddr,
	// user_paddr, free_paddr, RuntimeParams } -> status.
	FinalizeEnclave(eid uint16, runtimePaddr, userPaddr, freePaddr uint64, params RuntimeParams) defs.Err_t

	// RunEnclave corresponds to RUN_ENCLAVE { eid } -> { error, value }.
	RunEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t)

	// ResumeEnclave corresponds to RESUME_ENCLAVE { eid } -> { error, value }.
	ResumeEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t)

	// DestroyEnclave corresponds to DESTROY_ENCLAVE { eid } -> status.
	DestroyEnclave(eid uint16) defs.Err_t
}
