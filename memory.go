package hook

import (
	"unsafe"
)

// Protection is a native page protection value: PROT_* bits on Unix and a
// PAGE_* constant on Windows. The engine never interprets it, it only hands
// back what Memory.Protect reported.
type Protection uint32

// Memory is the set of OS services the engine needs. OSMemory returns the
// implementation for the running process; tests and callers patching memory
// they manage themselves can supply their own with WithMemory.
type Memory interface {
	// Protect changes the protection of every page overlapping
	// [addr, addr+length) and returns the protection that was in effect
	// before the call.
	Protect(addr uintptr, length int, prot Protection) (Protection, error)

	// Alloc returns the address of a block of at least length bytes of
	// executable memory.
	Alloc(length int) (uintptr, error)

	// Free releases a block returned by Alloc.
	Free(addr uintptr) error
}

type osMemory struct{}

// OSMemory returns the Memory implementation backed by the operating system.
// Gateways are carved out of a process-wide executable arena.
func OSMemory() Memory {
	return osMemory{}
}

func (osMemory) Alloc(length int) (uintptr, error) {
	return gatewayAllocator.Allocate(length)
}

func (osMemory) Free(addr uintptr) error {
	return gatewayAllocator.Free(addr)
}

func (osMemory) writeBlock(addr uintptr, code []byte) error {
	return gatewayAllocator.Write(addr, code)
}

// blockWriter is implemented by Memory implementations whose Alloc blocks
// share pages, and so can't have their protection changed one block at a
// time.
type blockWriter interface {
	writeBlock(addr uintptr, code []byte) error
}

// writeBlock copies code into a block returned by mem.Alloc.
func writeBlock(mem Memory, addr uintptr, code []byte) error {
	bw, ok := mem.(blockWriter)
	if !ok {
		return writeProtected(mem, addr, len(code), func(buf []byte) {
			copy(buf, code)
		})
	}

	err := bw.writeBlock(addr, code)
	if err != nil {
		return platformError("write", addr, len(code), err)
	}
	return nil
}

// codeAt returns a slice over the n bytes at addr. All reads and writes of
// target memory go through a slice of the declared length so they're bounds
// checked.
func codeAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// writeProtected makes [addr, addr+n) writable, calls write with a slice over
// it, and puts the previous protection back. The previous protection is
// restored whenever it was successfully changed, even if write panics.
func writeProtected(mem Memory, addr uintptr, n int, write func(code []byte)) (err error) {
	old, err := mem.Protect(addr, n, ProtectReadWriteExecute)
	if err != nil {
		return platformError("protect", addr, n, err)
	}
	defer func() {
		if _, restoreErr := mem.Protect(addr, n, old); restoreErr != nil && err == nil {
			err = platformError("restore protection", addr, n, restoreErr)
		}
	}()

	write(codeAt(addr, n))
	return nil
}
