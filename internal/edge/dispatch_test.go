package edge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesToRegisteredSlot(t *testing.T) {
	tbl := NewTable()
	called := false
	tbl.Register(2, func(shared []byte, f *CallFrame) {
		called = true
		f.CallStatus = StatusOK
	})

	shared := make([]byte, 256)
	f := CallFrame{CallID: 2}
	f.Write(shared)

	tbl.Dispatch(shared)
	require.True(t, called)
	require.Equal(t, StatusOK, ParseFrame(shared).CallStatus)
}

func TestDispatchRejectsUnregisteredSlot(t *testing.T) {
	tbl := NewTable()
	shared := make([]byte, 256)
	f := CallFrame{CallID: 5}
	f.Write(shared)

	tbl.Dispatch(shared)
	require.Equal(t, StatusBadCallID, ParseFrame(shared).CallStatus)
}

func TestDispatchRejectsOutOfRangeCallID(t *testing.T) {
	tbl := NewTable()
	shared := make([]byte, 256)
	f := CallFrame{CallID: 999}
	f.Write(shared)

	tbl.Dispatch(shared)
	require.Equal(t, StatusBadCallID, ParseFrame(shared).CallStatus)
}

func TestDispatchRoutesSyscallIDToRelay(t *testing.T) {
	tbl := NewTable()
	shared := make([]byte, 256)
	// An empty syscall argument (size 0) is too short for parseEdgeSyscall,
	// which must surface as StatusBadOffset rather than panicking.
	f := CallFrame{CallID: SyscallID, CallArgOffset: DataOffset, CallArgSize: 0}
	f.Write(shared)

	tbl.Dispatch(shared)
	require.Equal(t, StatusBadOffset, ParseFrame(shared).CallStatus)
}

func TestRegisterPanicsOutOfRange(t *testing.T) {
	tbl := NewTable()
	require.Panics(t, func() {
		tbl.Register(MaxEdgecall, func(shared []byte, f *CallFrame) {})
	})
}
