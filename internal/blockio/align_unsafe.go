package blockio

import "unsafe"

// sliceAddr returns the address of buf's backing array's first byte.
func sliceAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
