// Package defs collects the error codes, monitor command tags, and return
// values shared across the enclave host stack. Keeping them in one leaf
// package avoids import cycles between internal/enclave, internal/monitor,
// and internal/edge.
package defs

import "fmt"

// Err_t is the closed set of fatal errors that can abort enclave
// construction or teardown. It is distinct from edge.Status: per-call
// pointer/syscall failures never surface as an Err_t.
type Err_t int

// Error taxonomy, per spec §7.
const (
	ErrNone Err_t = iota
	ErrMalformed
	ErrTruncated
	ErrPageAllocationFailure
	ErrVSpaceAllocationFailure
	ErrELFLoadFailure
	ErrInvalidEnclave
	ErrDeviceInitFailure
	ErrDeviceError
	ErrDeviceMemoryMapError
)

var errNames = map[Err_t]string{
	ErrNone:                    "none",
	ErrMalformed:               "malformed ELF image",
	ErrTruncated:               "truncated ELF image",
	ErrPageAllocationFailure:   "free pool exhausted",
	ErrVSpaceAllocationFailure: "virtual address space allocation failed",
	ErrELFLoadFailure:          "ELF segment load failed",
	ErrInvalidEnclave:          "enclave layout rejected by measurement",
	ErrDeviceInitFailure:       "monitor device init failed",
	ErrDeviceError:             "monitor device error",
	ErrDeviceMemoryMapError:    "monitor device memory map error",
}

// Error implements the error interface.
func (e Err_t) Error() string {
	if s, ok := errNames[e]; ok {
		return s
	}
	return fmt.Sprintf("defs: unknown error %d", int(e))
}

// Fatal reports whether e must abort the enclave (everything but ErrNone).
func (e Err_t) Fatal() bool {
	return e != ErrNone
}

// Monitor command tags, per spec §6. Opaque beyond their role as a
// dispatch key between EnclaveLifecycle and MonitorBoundary.
type MonitorCmd int

const (
	CmdCreateEnclave MonitorCmd = iota
	CmdUTMInit
	CmdFinalizeEnclave
	CmdRunEnclave
	CmdResumeEnclave
	CmdDestroyEnclave
)

// Monitor return codes for RUN_ENCLAVE/RESUME_ENCLAVE. The numeric values
// are taken from the source contract this spec was distilled from and are
// not renumbered (spec §9 Open Questions).
type RunStatus int

const (
	RunDone         RunStatus = 0
	RunInterrupted  RunStatus = 100002
	RunEdgeCallHost RunStatus = 100011
	RunFatal        RunStatus = -1
)

func (s RunStatus) String() string {
	switch s {
	case RunDone:
		return "done"
	case RunInterrupted:
		return "interrupted"
	case RunEdgeCallHost:
		return "edge-call-host"
	default:
		return "fatal"
	}
}
