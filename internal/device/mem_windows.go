//go:build windows

package device

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapAnon commits n zeroed bytes of private memory.
func mapAnon(n int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(n), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	//nolint:gosec,govet // addr comes from VirtualAlloc and spans n bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil
}

// unmap releases memory obtained from mapAnon.
func unmap(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(unsafe.SliceData(mem))), 0, windows.MEM_RELEASE)
}
