package hook

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"
)

const (
	opcodeJMP    = 0xe9 // JMP rel32
	opcodeJMPabs = 0xff // JMP r/m, with modrmRIP: JMP [RIP+disp32]
	opcodeNOP    = 0x90

	// ModRM for opcodeJMPabs: mod=00, reg=4 (JMP), rm=101. In 64-bit mode
	// rm=101 with mod=00 is RIP-relative.
	modrmRIP = 0x25

	jumpSize32 = 5  // 1 byte opcode + 4 byte displacement
	jumpSize64 = 14 // 2 byte opcode + 4 byte displacement + 8 byte address
)

// hostPointerWidth returns the pointer width in bits of the running process,
// or 0 when it isn't an x86 target.
func hostPointerWidth() int {
	switch runtime.GOARCH {
	case "386", "amd64":
		return int(unsafe.Sizeof(uintptr(0))) * 8
	default:
		return 0
	}
}

// MinLen returns the smallest patch length accepted on this host, or 0 if the
// host isn't x86 or x86-64.
func MinLen() int {
	n, err := jumpSize(hostPointerWidth())
	if err != nil {
		return 0
	}
	return n
}

func jumpSize(width int) (int, error) {
	switch width {
	case 32:
		return jumpSize32, nil
	case 64:
		return jumpSize64, nil
	default:
		return 0, fmt.Errorf("%w: %d-bit pointers are not supported", ErrInvalidTarget, width)
	}
}

// encodeJump returns the machine code for an unconditional jump to dest that
// will execute from src.
//
// 32-bit targets use JMP rel32. 64-bit targets use JMP [RIP+0] followed by
// the absolute address, since rel32 can't reach the whole address space.
//
// The result is decoded again before it's returned to make sure it lands on
// dest.
func encodeJump(src, dest uintptr, width int) ([]byte, error) {
	size, err := jumpSize(width)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	switch width {
	case 32:
		buf[0] = opcodeJMP
		// Relative to the end of the instruction. Wraps in the 32-bit
		// address space.
		diff32 := uint32(dest - (src + jumpSize32))
		binary.LittleEndian.PutUint32(buf[1:], diff32)
	case 64:
		buf[0] = opcodeJMPabs
		buf[1] = modrmRIP
		// buf[2:6] is a zero displacement: the address immediately follows
		// the instruction.
		binary.LittleEndian.PutUint64(buf[6:], uint64(dest))
	}

	// A rel32 jump only reaches +/-2GiB when it's forced on a 64-bit host.
	target, err := jumpTarget(buf, src, width)
	if err != nil {
		return nil, err
	}
	if target != dest {
		return nil, fmt.Errorf("%w: jump from 0x%x cannot reach 0x%x", ErrInvalidTarget, src, dest)
	}

	return buf, nil
}

// patchBytes returns length bytes holding a jump from src to dest, padded
// with NOPs.
func patchBytes(src, dest uintptr, length, width int) ([]byte, error) {
	jump, err := encodeJump(src, dest, width)
	if err != nil {
		return nil, err
	}
	if len(jump) > length {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTooSmall, length, len(jump))
	}

	buf := make([]byte, length)
	for i := range buf {
		buf[i] = opcodeNOP
	}
	copy(buf, jump)
	return buf, nil
}
