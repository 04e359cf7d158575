//go:build windows

package hook

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	// ProtectReadWriteExecute is the protection code pages are given while
	// they're being patched.
	ProtectReadWriteExecute Protection = windows.PAGE_EXECUTE_READWRITE

	mprotectExec = windows.PAGE_EXECUTE
	mprotectRX   = windows.PAGE_EXECUTE_READ
	mprotectRWX  = windows.PAGE_EXECUTE_READWRITE
)

func (osMemory) Protect(addr uintptr, length int, prot Protection) (Protection, error) {
	// VirtualProtect rounds the range out to whole pages itself.
	var oldFlags uint32
	err := windows.VirtualProtect(addr, uintptr(length), uint32(prot), &oldFlags)
	if err != nil {
		return 0, errors.Wrapf(err, "VirtualProtect 0x%x+%d", addr, length)
	}
	return Protection(oldFlags), nil
}
