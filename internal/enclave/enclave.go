// Package enclave implements Enclave and EnclaveLifecycle from spec §3/
// §4.9: the orchestrator that builds EpmMemory and UtmMemory, loads both
// ELFs, runs Measurement in simulated mode, drives MonitorBoundary through
// create/finalize/run/resume/destroy, and pumps EdgeTransport on every
// EdgeCallHost return.
//
// Grounded on the teacher's vm.Vm_t: a mutex-guarded, single-owner address
// space object with an explicit state machine and Err_t-everywhere error
// reporting, generalized here from "one process's address space" to "one
// enclave's full construct/run/destroy lifecycle".
package enclave

import (
	"sync"

	"github.com/keystone-riscv/enclave-host/internal/defs"
	"github.com/keystone-riscv/enclave-host/internal/edge"
	"github.com/keystone-riscv/enclave-host/internal/elfloader"
	"github.com/keystone-riscv/enclave-host/internal/elfview"
	"github.com/keystone-riscv/enclave-host/internal/epm"
	"github.com/keystone-riscv/enclave-host/internal/freepool"
	"github.com/keystone-riscv/enclave-host/internal/measure"
	"github.com/keystone-riscv/enclave-host/internal/mem"
	"github.com/keystone-riscv/enclave-host/internal/monitor"
	"github.com/keystone-riscv/enclave-host/internal/registry"
	"github.com/keystone-riscv/enclave-host/internal/utm"
)

// State is the lifecycle state machine from spec §3 Enclave.
type State int

const (
	Fresh State = iota
	Loaded
	Finalized
	Running
	Done
	Destroyed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Loaded:
		return "loaded"
	case Finalized:
		return "finalized"
	case Running:
		return "running"
	case Done:
		return "done"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Params bundles EnclaveLifecycle.init's inputs (spec §4.9: "init(eapp_path,
// runtime_path, params, alternate_phys_addr)").
type Params struct {
	RuntimeEntry  uint64
	UserEntry     uint64
	UntrustedVA   uint64
	UntrustedSize int

	UseFreemem   bool
	StackTop     int
	StackSize    int
	ExtraPTPages int // extra pages beyond the page-count budget formula
	Is32         bool
}

// Enclave is one constructed enclave (spec §3 Enclave).
type Enclave struct {
	mu sync.Mutex

	id    uint16
	state State

	Epm *epm.EpmMemory
	Utm *utm.UtmMemory

	runtimeEntryVA uint64
	userEntryVA    uint64
	untrustedVA    uint64
	untrustedSize  int

	sharedBuffer []byte
	edgeTable    *edge.Table
	measurement  []byte

	monitor  monitor.Boundary
	registry *registry.Registry
}

// ID implements registry.Entry.
func (e *Enclave) ID() uint16 { return e.id }

// Measurement returns the MDSIZE-byte digest produced by Measurement
// during Init, or nil when running against a non-simulated monitor
// backend (spec §4.9 step 7 runs Measurement only in simulated mode).
func (e *Enclave) Measurement() []byte { return e.measurement }

// State reports the current lifecycle state.
func (e *Enclave) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SharedBuffer exposes the UTM shared buffer (simulated backend only),
// used by tests driving EdgeTransport directly.
func (e *Enclave) SharedBuffer() []byte { return e.sharedBuffer }

// EdgeTable exposes the dispatch table so callers can Register application
// handlers before Run.
func (e *Enclave) EdgeTable() *edge.Table { return e.edgeTable }

// pageBudget implements spec §4.5's "caller pre-sizes the FreePool with
// ⌈user.mem_size/PAGE⌉ + ⌈runtime.mem_size/PAGE⌉ + 15 extra pages".
func pageBudget(runtimeMemsz, userMemsz int, extra int) int {
	ceilDiv := func(n int) int { return (n + mem.PGSIZE - 1) / mem.PGSIZE }
	return ceilDiv(userMemsz) + ceilDiv(runtimeMemsz) + 15 + extra
}

func elfMemSize(v *elfview.View) int {
	var lo, hi uint64
	found := false
	for i := 0; i < v.NumPhdrs(); i++ {
		ph, err := v.Phdr(i)
		if err != defs.ErrNone || ph.Type != elfview.PT_LOAD {
			continue
		}
		end := ph.Vaddr + ph.Memsz
		if !found || ph.Vaddr < lo {
			lo = ph.Vaddr
		}
		if !found || end > hi {
			hi = end
		}
		found = true
	}
	return int(hi - lo)
}

// Init runs EnclaveLifecycle.init (spec §4.9 steps 1-9): it opens both
// ELFs, sizes and builds EpmMemory, loads the runtime then the eapp,
// optionally builds the default stack, allocates and maps UTM, runs
// Measurement in simulated mode, then calls create/finalize on mon and
// registers the result in reg.
func Init(runtimeELF, eappELF []byte, p Params, mon monitor.Boundary, reg *registry.Registry, sponge measure.HashSponge) (*Enclave, defs.Err_t) {
	runtimeView, err := elfview.Parse(runtimeELF)
	if err != defs.ErrNone {
		return nil, err
	}
	eappView, err := elfview.Parse(eappELF)
	if err != defs.ErrNone {
		return nil, err
	}

	minPages := pageBudget(elfMemSize(runtimeView), elfMemSize(eappView), p.ExtraPTPages)
	pool := freepool.New(minPages)
	em, err := epm.New(pool, p.Is32)
	if err != defs.ErrNone {
		return nil, err
	}

	em.MarkRuntime()
	rtLoader := &elfloader.Loader{View: runtimeView, Epm: em, Mode: mem.RT_FULL}
	if err := rtLoader.LoadSegments(); err != defs.ErrNone {
		return nil, err
	}
	em.MarkEapp()
	eappLoader := &elfloader.Loader{View: eappView, Epm: em, Mode: mem.USER_FULL}
	if err := eappLoader.LoadSegments(); err != defs.ErrNone {
		return nil, err
	}
	em.MarkFree()

	if p.UseFreemem {
		if err := eappLoader.InitStack(p.StackTop, p.StackSize); err != defs.ErrNone {
			return nil, err
		}
	}

	utmSize := p.UntrustedSize
	um, err := utm.New(utmSize)
	if err != defs.ErrNone {
		return nil, err
	}
	em.AllocUTM(um.Pool)
	if err := elfloader.LoadUntrusted(em, um, int(p.UntrustedVA), utmSize); err != defs.ErrNone {
		return nil, err
	}

	runtimeParams := measure.RuntimeParams{
		RuntimeEntry:  runtimeView.EntryPoint(),
		UserEntry:     eappView.EntryPoint(),
		UntrustedPtr:  p.UntrustedVA,
		UntrustedSize: uint64(utmSize),
	}

	// Simulated-only: run Measurement before finalization (spec §4.9 step 7).
	var digest []byte
	if _, ok := mon.(*monitor.Simulated); ok {
		regions := measure.Regions{
			EpmBase:       em.Pool.Base(),
			EpmSize:       em.Pool.Size(),
			RuntimeStart:  em.RuntimeStartPaddr,
			EappStart:     em.EappStartPaddr,
			FreeStart:     em.FreeStartPaddr,
			UtmBase:       em.UTMBasePaddr,
			UtmSize:       em.UTMSize,
			UntrustedVA:   p.UntrustedVA,
			UntrustedSize: uint64(utmSize),
		}
		m := measure.New(em, em.RootPTPaddr, p.Is32, regions, runtimeParams, sponge)
		d, err := m.Run()
		if err != defs.ErrNone {
			return nil, err
		}
		digest = d
	}

	// minPages is advisory past this point: the simulated backend only
	// mints an eid, while a real SBI/Ioctl monitor would size and own its
	// own physical EPM from it (out of scope here; see spec.md §1
	// Non-goals "the monitor firmware itself").
	eid, _, err := mon.CreateEnclave(pool.NumPages())
	if err != defs.ErrNone {
		return nil, err
	}
	if _, err := mon.UTMInit(eid, utmSize); err != defs.ErrNone {
		mon.DestroyEnclave(eid)
		return nil, err
	}
	monParams := monitor.RuntimeParams(runtimeParams)
	if err := mon.FinalizeEnclave(eid, uint64(em.RuntimeStartPaddr), uint64(em.EappStartPaddr), uint64(em.FreeStartPaddr), monParams); err != defs.ErrNone {
		mon.DestroyEnclave(eid)
		return nil, err
	}

	e := &Enclave{
		id:             eid,
		state:          Finalized,
		Epm:            em,
		Utm:            um,
		runtimeEntryVA: runtimeParams.RuntimeEntry,
		userEntryVA:    runtimeParams.UserEntry,
		untrustedVA:    p.UntrustedVA,
		untrustedSize:  utmSize,
		sharedBuffer:   um.SharedBuffer(),
		edgeTable:      edge.NewTable(),
		measurement:    digest,
		monitor:        mon,
		registry:       reg,
	}
	reg.Register(eid, e)
	return e, defs.ErrNone
}

// Run drives the run/resume loop (spec §4.9 run(ret) -> Error): it
// alternates RunEnclave/ResumeEnclave, dispatching EdgeTransport on every
// EdgeCallHost and looping through Interrupted, until Done or a fatal
// status.
func (e *Enclave) Run() (uint64, defs.Err_t) {
	e.mu.Lock()
	if e.state != Finalized && e.state != Running {
		e.mu.Unlock()
		return 0, defs.ErrInvalidEnclave
	}
	first := e.state == Finalized
	e.state = Running
	e.mu.Unlock()

	for {
		var status defs.RunStatus
		var value uint64
		var err defs.Err_t
		if first {
			status, value, err = e.monitor.RunEnclave(e.id)
			first = false
		} else {
			status, value, err = e.monitor.ResumeEnclave(e.id)
		}
		if err != defs.ErrNone {
			e.destroyLocked()
			return 0, defs.ErrDeviceError
		}

		switch status {
		case defs.RunEdgeCallHost:
			e.edgeTable.Dispatch(e.sharedBuffer)
			continue
		case defs.RunInterrupted:
			continue
		case defs.RunDone:
			e.mu.Lock()
			e.state = Done
			e.mu.Unlock()
			return value, defs.ErrNone
		default:
			e.destroyLocked()
			return 0, defs.ErrDeviceError
		}
	}
}

// Destroy tears the enclave down: MonitorBoundary.DestroyEnclave, then
// unregister and release the registry id (spec §4.9 EXPANSION "destroy
// unregisters").
func (e *Enclave) Destroy() defs.Err_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyLocked()
}

func (e *Enclave) destroyLocked() defs.Err_t {
	if e.state == Destroyed {
		return defs.ErrNone
	}
	err := e.monitor.DestroyEnclave(e.id)
	e.registry.Unregister(e.id)
	e.state = Destroyed
	// Drop the EPM/UTM pools and shared buffer so nothing outlives
	// destroy (spec §8 P7: dropping an enclave releases its UTM mapping,
	// EPM pool, and both ELF windows).
	e.Epm = nil
	e.Utm = nil
	e.sharedBuffer = nil
	return err
}
