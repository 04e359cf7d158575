package hook

import (
	"errors"
	"fmt"
)

var (
	// ErrTooSmall is returned when the patch length cannot hold a jump for
	// the target architecture. Nothing has been written when it's returned.
	ErrTooSmall = errors.New("patch length too small for jump")

	// ErrInvalidTarget is returned when the pointer width is not supported
	// or the jump cannot be encoded. Nothing has been written when it's
	// returned.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrPlatform matches every *PlatformError with errors.Is.
	ErrPlatform = errors.New("platform call failed")
)

// PlatformError reports a failed protect, allocate or free call. Memory may
// have been modified before it occurred.
type PlatformError struct {
	Op   string
	Addr uintptr
	Len  int
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Len > 0 {
		return fmt.Sprintf("%s 0x%x (%d bytes): %v", e.Op, e.Addr, e.Len, e.Err)
	}
	return fmt.Sprintf("%s 0x%x: %v", e.Op, e.Addr, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

func (e *PlatformError) Is(target error) bool {
	return target == ErrPlatform
}

func platformError(op string, addr uintptr, n int, err error) error {
	return &PlatformError{Op: op, Addr: addr, Len: n, Err: err}
}
