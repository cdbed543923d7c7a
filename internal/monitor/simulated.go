package monitor

import (
	"sync"

	"github.com/keystone-riscv/enclave-host/internal/defs"
)

// IDSource mints and releases synthetic eids in [0x1000, 0xffff). Satisfied
// structurally by *registry.Registry; declared here so monitor never
// imports internal/registry.
type IDSource interface {
	Alloc() (uint16, bool)
	Free(uint16)
}

type simEnclave struct {
	ptPaddr uint64
	script  []defs.RunStatus
	pos     int
}

// Simulated is the in-process MonitorBoundary used by the tests and by
// `config.Backend == config.BackendSimulated`: create just hands back a
// synthetic eid and a pt paddr of 0; finalize is a no-op past existence checks;
// run/resume report a scripted status sequence, defaulting to an
// immediate Done (spec §4.10 Simulated).
type Simulated struct {
	mu       sync.Mutex
	ids      IDSource
	enclaves map[uint16]*simEnclave
}

// NewSimulated builds a Simulated backend drawing eids from ids.
func NewSimulated(ids IDSource) *Simulated {
	return &Simulated{ids: ids, enclaves: make(map[uint16]*simEnclave)}
}

func (s *Simulated) CreateEnclave(minPages int) (uint16, uint64, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eid, ok := s.ids.Alloc()
	if !ok {
		return 0, 0, defs.ErrDeviceInitFailure
	}
	s.enclaves[eid] = &simEnclave{script: []defs.RunStatus{defs.RunDone}}
	return eid, 0, defs.ErrNone
}

func (s *Simulated) UTMInit(eid uint16, untrustedSize int) (uint64, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enclaves[eid]; !ok {
		return 0, defs.ErrInvalidEnclave
	}
	return 0, defs.ErrNone
}

func (s *Simulated) FinalizeEnclave(eid uint16, runtimePaddr, userPaddr, freePaddr uint64, params RuntimeParams) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enclaves[eid]; !ok {
		return defs.ErrInvalidEnclave
	}
	return defs.ErrNone
}

func (s *Simulated) RunEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	return s.step(eid)
}

func (s *Simulated) ResumeEnclave(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	return s.step(eid)
}

func (s *Simulated) step(eid uint16) (defs.RunStatus, uint64, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enclaves[eid]
	if !ok {
		return defs.RunFatal, 0, defs.ErrInvalidEnclave
	}
	if len(e.script) == 0 {
		return defs.RunDone, 0, defs.ErrNone
	}
	idx := e.pos
	if idx >= len(e.script) {
		idx = len(e.script) - 1
	} else {
		e.pos++
	}
	return e.script[idx], 0, defs.ErrNone
}

func (s *Simulated) DestroyEnclave(eid uint16) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enclaves[eid]; !ok {
		return defs.ErrInvalidEnclave
	}
	delete(s.enclaves, eid)
	s.ids.Free(eid)
	return defs.ErrNone
}

// SetScript configures the sequence of RunStatus values Run/Resume report
// for eid, one per call, holding the final entry once exhausted. Test-only
// control knob: a real monitor's status sequence is determined by actual
// enclave execution, not scripted.
func (s *Simulated) SetScript(eid uint16, script []defs.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.enclaves[eid]; ok {
		e.script = script
		e.pos = 0
	}
}
