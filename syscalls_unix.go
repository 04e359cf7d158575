//go:build unix

package hook

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// ProtectReadWriteExecute is the protection code pages are given while
	// they're being patched.
	ProtectReadWriteExecute Protection = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC

	mprotectExec = unix.PROT_EXEC
	mprotectRX   = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX  = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

func (osMemory) Protect(addr uintptr, length int, prot Protection) (Protection, error) {
	old, err := currentProtection(addr)
	if err != nil {
		return 0, err
	}

	err = mprotect(addr, length, int(prot))
	if err != nil {
		return 0, err
	}
	return old, nil
}

func mprotect(addr uintptr, length int, flags int) error {
	pageSize := uintptr(unix.Getpagesize())

	// mprotect only takes whole pages, so widen [addr, addr+length) to the
	// pages it touches.
	pageStart := addr &^ (pageSize - 1)
	regionSize := (addr - pageStart + uintptr(length) + pageSize - 1) &^ (pageSize - 1)

	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)
	return errors.Wrapf(unix.Mprotect(region, flags), "mprotect 0x%x+%d", pageStart, regionSize)
}
