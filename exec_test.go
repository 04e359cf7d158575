//go:build amd64 && (linux || windows)

package hook

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// MOVQ $1, AX; ADDQ $41, AX; 3 NOPs; RET
	//
	// The first 14 bytes are position independent and end on an instruction
	// boundary so they can move to a gateway.
	answerCode = []byte{
		0x48, 0xc7, 0xc0, 0x01, 0x00, 0x00, 0x00,
		0x48, 0x83, 0xc0, 0x29,
		0x90, 0x90, 0x90,
		0xc3,
	}

	// MOVQ $7, AX; RET
	sevenCode = []byte{0x48, 0xc7, 0xc0, 0x07, 0x00, 0x00, 0x00, 0xc3}
)

// loadCode copies code into executable memory and returns its address.
func loadCode(t *testing.T, code []byte) uintptr {
	mem := OSMemory()

	addr, err := mem.Alloc(len(code))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Free(addr) })

	require.NoError(t, writeBlock(mem, addr, code))
	return addr
}

// privateCode is like loadCode but puts code in its own mapping, so hooking it
// never changes the protection of pages the gateway arena uses.
func privateCode(t *testing.T, code []byte) uintptr {
	a := &allocator{}

	addr, err := a.Allocate(len(code))
	require.NoError(t, err)
	t.Cleanup(func() { a.Free(addr) })

	require.NoError(t, a.Write(addr, code))
	return addr
}

// intFunc converts the address of machine code into a func. The code must
// return its result in AX and leave everything else alone.
func intFunc(addr uintptr) func() int {
	// A func value points to a word holding the code address.
	ref := &addr
	return *(*func() int)(unsafe.Pointer(&ref))
}

func TestInline_Execute(t *testing.T) {
	assert := assert.New(t)

	src := privateCode(t, answerCode)
	dest := loadCode(t, sevenCode)
	answer := intFunc(src)

	assert.Equal(42, answer())

	h, err := Inline(src, dest, MinLen())
	require.NoError(t, err)
	assert.Equal(7, answer())

	require.NoError(t, h.Unhook())
	assert.Equal(42, answer())
	assert.Equal(answerCode, readCode(src, len(answerCode)))
}

func TestTrampoline_Execute(t *testing.T) {
	assert := assert.New(t)

	src := privateCode(t, answerCode)
	dest := loadCode(t, sevenCode)
	answer := intFunc(src)

	h, err := Trampoline(src, dest, 14)
	require.NoError(t, err)

	assert.Equal(7, answer())
	assert.Equal(42, intFunc(h.Gateway())())

	require.NoError(t, h.Unhook())
	assert.Equal(42, answer())
}

func TestOSMemory_AllocFree(t *testing.T) {
	assert := assert.New(t)
	mem := OSMemory()

	before := gatewayAllocator.Len()

	addr, err := mem.Alloc(28)
	require.NoError(t, err)
	assert.NotZero(addr)
	assert.Equal(before+1, gatewayAllocator.Len())

	assert.NoError(mem.Free(addr))
	assert.Equal(before, gatewayAllocator.Len())
	assert.Error(mem.Free(addr), "double free must fail")

	_, err = mem.Alloc(0)
	assert.Error(err)
}

func TestOSMemory_WriteBlock(t *testing.T) {
	assert := assert.New(t)
	mem := OSMemory()

	addr, err := mem.Alloc(len(sevenCode))
	require.NoError(t, err)
	defer mem.Free(addr)

	require.NoError(t, writeBlock(mem, addr, sevenCode))
	assert.Equal(sevenCode, readCode(addr, len(sevenCode)))
	assert.Equal(7, intFunc(addr)())

	err = writeBlock(mem, addr, make([]byte, 4096))
	assert.ErrorIs(err, ErrPlatform)
	assert.ErrorContains(err, "don't fit")

	// Unknown blocks are refused rather than written.
	err = writeBlock(mem, addr+1, sevenCode)
	assert.ErrorIs(err, ErrPlatform)
	assert.ErrorContains(err, "not allocated")
}

// Trampolines on unrelated functions share the gateway arena, so installing
// and removing them from several goroutines at once must not fault.
func TestTrampoline_Concurrent(t *testing.T) {
	const (
		workers = 8
		rounds  = 200
	)

	before := gatewayAllocator.Len()
	dest := loadCode(t, sevenCode)

	sources := make([]uintptr, workers)
	for i := range sources {
		sources[i] = privateCode(t, answerCode)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for _, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()

			answer := intFunc(src)
			for i := 0; i < rounds; i++ {
				h, err := Trampoline(src, dest, 14)
				if err != nil {
					errs <- err
					return
				}

				if got := answer(); got != 7 {
					errs <- fmt.Errorf("hooked 0x%x returned %d", src, got)
					return
				}
				if got := intFunc(h.Gateway())(); got != 42 {
					errs <- fmt.Errorf("gateway 0x%x returned %d", h.Gateway(), got)
					return
				}

				err = h.Unhook()
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	for _, src := range sources {
		assert.Equal(t, answerCode, readCode(src, len(answerCode)))
	}
	// Only dest is left.
	assert.Equal(t, before+1, gatewayAllocator.Len())
}

//go:noinline
func answer() int {
	return 42
}

func seven() int {
	return 7
}

//go:noinline
func greet(name string) string {
	return "hello " + name
}

func shout(name string) string {
	return "HELLO " + name
}

func TestInlineFunc(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(42, answer())

	h, err := InlineFunc(answer, seven)
	require.NoError(t, err)
	assert.Equal(7, answer())

	require.NoError(t, h.Unhook())
	assert.Equal(42, answer())
}

func TestInlineFunc_Args(t *testing.T) {
	assert := assert.New(t)

	h, err := InlineFunc(greet, shout)
	require.NoError(t, err)
	defer h.Unhook()

	assert.Equal("HELLO gopher", greet("gopher"))
	assert.Equal(reflect.ValueOf(greet).Pointer(), h.Source())
}
