// Package hook redirects machine code at a raw address to other code by
// overwriting the start of it with a jump ("inline hooking").
//
// Inline installs a bare redirect. Trampoline also builds a gateway holding
// the overwritten instructions and a jump back, so the original code can
// still be called. Both take the source and destination addresses and the
// number of bytes that may be overwritten, which must cover whole
// instructions and be at least MinLen().
//
// 32-bit targets are patched with a 5 byte JMP rel32. 64-bit targets are
// patched with a 14 byte JMP [RIP+0] followed by the absolute destination.
//
// Limitations:
//   - Only x86 and x86-64.
//   - The caller picks the patch length. Nothing checks that it ends on an
//     instruction boundary, or that gateway instructions are position
//     independent.
//   - No thread may execute inside the patched bytes while they're written.
//   - Installing and removing hooks isn't synchronized. Hooks whose code
//     shares a page must not be installed or removed at the same time.
//     Gateways from OSMemory are safe to use from any goroutine.
//   - On Unix systems other than Linux, the protection restored after a patch
//     is always read+execute.
package hook
