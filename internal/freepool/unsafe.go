package freepool

import "unsafe"

// sliceAddr returns the address of a byte slice's backing array, the same
// unsafe-pointer-arithmetic style the teacher uses throughout mem/dmap.go
// to convert between Go-managed storage and Pa_t physical addresses.
func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
