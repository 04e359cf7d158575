package hook

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
)

// allocator hands out executable blocks for gateways. The arena is kept
// read+execute except while a block is being allocated, written or freed, and
// all three happen under mu.
type allocator struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	initErr  error
	mutable  bool

	// blocks maps each live block's address to its slice, which the arena
	// needs back to free it.
	blocks map[uintptr][]byte
}

var gatewayAllocator = &allocator{}

func (a *allocator) init(startSize int) error {
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(malloc.MmapProt(mprotectExec))
		if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.mprotect = protBE.Protect
		} else {
			a.mprotect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			a.initErr = errors.New("unable to initialize arena")
			return
		}
		a.mutable = true
		a.blocks = make(map[uintptr][]byte)
	})
	return a.initErr
}

// beginMutate and endMutate must be called with mu held.
func (a *allocator) beginMutate() error {
	if a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRWX)
	if err == nil {
		a.mutable = true
	}
	return err
}

func (a *allocator) endMutate() error {
	if !a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRX)
	if err == nil {
		a.mutable = false
	}
	return err
}

// Allocate returns the address of a new block of size bytes.
func (a *allocator) Allocate(size int) (uintptr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("invalid allocation size %d", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.init(size)
	if err != nil {
		return 0, fmt.Errorf("error initializing allocator: %w", err)
	}

	err = a.beginMutate()
	if err != nil {
		return 0, err
	}

	buf, err := malloc.MallocSlice[byte](a.Arena, size)
	if err != nil {
		return 0, errors.Join(err, a.endMutate())
	}

	err = a.endMutate()
	if err != nil {
		// The arena is still writable, so the block can go back.
		malloc.FreeSlice(a.Arena, buf)
		return 0, err
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	a.blocks[addr] = buf
	return addr, nil
}

// Free releases a block returned by Allocate. Freeing an address twice, or
// one that didn't come from Allocate, is an error and has no effect.
func (a *allocator) Free(addr uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.blocks[addr]
	if !ok {
		return fmt.Errorf("0x%x was not allocated by the gateway arena", addr)
	}

	err := a.beginMutate()
	if err != nil {
		return err
	}

	malloc.FreeSlice(a.Arena, buf)
	delete(a.blocks, addr)

	return a.endMutate()
}

// Write copies code into the block at addr. The copy happens under the same
// lock and writable window as Allocate and Free, so it can't race with another
// goroutine flipping the arena back to read+execute.
func (a *allocator) Write(addr uintptr, code []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.blocks[addr]
	if !ok {
		return fmt.Errorf("0x%x was not allocated by the gateway arena", addr)
	}
	if len(code) > len(buf) {
		return fmt.Errorf("%d bytes don't fit in the %d byte block at 0x%x", len(code), len(buf), addr)
	}

	err := a.beginMutate()
	if err != nil {
		return err
	}

	copy(buf, code)

	return a.endMutate()
}

// Len returns the number of live blocks.
func (a *allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}
