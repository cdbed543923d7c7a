package edge

// Handler services one registered application edge call. It must set
// f.CallStatus and populate the return area via SetupRet/SetupWrappedRet
// before returning (spec §4.8 Dispatch step 3).
type Handler func(shared []byte, f *CallFrame)

// Table is the host's MAX_EDGECALL-slot registry plus the fixed
// SYSCALL_ID relay (spec §4.8 Dispatch).
type Table struct {
	slots   [MaxEdgecall]Handler
	syscall Handler
}

// NewTable builds a dispatch table with the syscall relay wired into the
// reserved SYSCALL_ID slot.
func NewTable() *Table {
	return &Table{syscall: relaySyscall}
}

// Register installs h at application slot id (spec §4.8 "MAX_EDGECALL
// application slots are registered by the host").
func (t *Table) Register(id int, h Handler) {
	if id < 0 || id >= MaxEdgecall {
		panic("edge: slot out of range")
	}
	t.slots[id] = h
}

// Dispatch reads the header from shared, routes it per spec §4.8 steps
// 1-3, and writes the updated header back.
func (t *Table) Dispatch(shared []byte) {
	f := ParseFrame(shared)

	switch {
	case f.CallID == SyscallID:
		t.syscall(shared, &f)
	case f.CallID >= MaxEdgecall || t.slots[f.CallID] == nil:
		f.CallStatus = StatusBadCallID
	default:
		t.slots[f.CallID](shared, &f)
	}

	f.Write(shared)
}
