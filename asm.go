package hook

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// jumpTarget decodes the instruction at the start of code and returns where it
// jumps to. code is assumed to execute from pc.
//
// Only JMP rel and JMP [RIP+disp] where the address slot is inside code are
// understood.
func jumpTarget(code []byte, pc uintptr, width int) (uintptr, error) {
	instruction, err := x86asm.Decode(code, width)
	if err != nil {
		return 0, fmt.Errorf("decode error at 0x%x: %w", pc, err)
	}
	if instruction.Op != x86asm.JMP {
		return 0, fmt.Errorf("not a jump at 0x%x: %v", pc, instruction)
	}

	next := pc + uintptr(instruction.Len)

	switch arg := instruction.Args[0].(type) {
	case x86asm.Rel:
		return next + uintptr(int64(arg)), nil
	case x86asm.Mem:
		if arg.Base != x86asm.RIP || arg.Index != 0 || arg.Segment != 0 {
			return 0, fmt.Errorf("unsupported jump operand at 0x%x: %v", pc, arg)
		}

		slot := int64(instruction.Len) + arg.Disp
		if slot < 0 || slot+8 > int64(len(code)) {
			return 0, errors.New("indirect jump address is outside of the decoded code")
		}
		return uintptr(binary.LittleEndian.Uint64(code[slot:])), nil
	default:
		return 0, fmt.Errorf("unsupported jump operand at 0x%x: %v", pc, instruction.Args[0])
	}
}

// disassemble renders code one instruction per line. The address slot after
// JMP [RIP+0] is shown as data, as is anything that doesn't decode.
func disassemble(code []byte, baseAddr uintptr, width int) string {
	var buf bytes.Buffer

	for i := 0; i < len(code); {
		instruction, err := x86asm.Decode(code[i:], width)
		if err != nil {
			fmt.Fprintf(&buf, "0x%08x\t%-20s\t(bad)\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+1]))
			i++
			continue
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+instruction.Len]), instruction.String())
		i += instruction.Len

		if mem, ok := instruction.Args[0].(x86asm.Mem); ok && instruction.Op == x86asm.JMP && mem.Base == x86asm.RIP && mem.Disp == 0 && i+8 <= len(code) {
			fmt.Fprintf(&buf, "0x%08x\t%-20s\t.quad 0x%x\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+8]), binary.LittleEndian.Uint64(code[i:]))
			i += 8
		}
	}

	return buf.String()
}
