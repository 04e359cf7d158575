package hook

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

// TrampolineHook is an InlineHook that keeps the original function callable.
// The bytes overwritten at the source are copied into an executable gateway
// followed by a jump back to the rest of the original code.
//
// The same concurrency and reachability rules as InlineHook apply. In
// addition the gateway is released when the hook is removed, so the hook must
// stay reachable while anything might call through Gateway.
type TrampolineHook struct {
	t       *trampolineHook
	cleanup runtime.Cleanup
}

// Trampoline hooks source like Inline and returns a hook whose Gateway runs
// the original code.
//
// The copied instructions run from a different address, so the first length
// bytes at source must be position independent: no relative branches, calls
// or RIP-relative operands.
//
// If anything fails after the gateway has been allocated, the gateway is
// freed before the error is returned.
func Trampoline(source, destination uintptr, length int, opts ...Option) (*TrampolineHook, error) {
	cfg := newConfig(opts)

	t, err := installTrampoline(source, destination, length, cfg)
	if err != nil {
		return nil, err
	}

	th := &TrampolineHook{t: t}
	th.cleanup = runtime.AddCleanup(th, (*trampolineHook).release, t)
	return th, nil
}

// Unhook restores the original bytes at the source and then frees the
// gateway. It does nothing once the hook has been fully removed. If restoring
// the bytes fails, the gateway is kept and the hook stays active.
func (th *TrampolineHook) Unhook() error {
	err := th.t.unhook()
	if err != nil {
		return err
	}
	th.cleanup.Stop()
	return nil
}

// Close is the same as Unhook.
func (th *TrampolineHook) Close() error {
	return th.Unhook()
}

// Active reports whether the jump is installed.
func (th *TrampolineHook) Active() bool {
	return th.t.active
}

// Gateway returns the address that runs the original code. Convert it to a
// function with the original signature to call it. It's 0 once the gateway
// has been freed.
func (th *TrampolineHook) Gateway() uintptr {
	return th.t.gateway
}

// Source returns the hooked address.
func (th *TrampolineHook) Source() uintptr {
	return th.t.src
}

// Len returns the number of bytes replaced at Source.
func (th *TrampolineHook) Len() int {
	return len(th.t.saved)
}

type trampolineHook struct {
	*inlineHook
	gateway uintptr
}

func installTrampoline(src, dest uintptr, length int, cfg config) (*trampolineHook, error) {
	err := checkRegion(src, dest, length, cfg)
	if err != nil {
		return nil, err
	}

	// checkRegion has validated the width.
	jumpLen, _ := jumpSize(cfg.width)
	size := length + jumpLen

	gateway, err := cfg.mem.Alloc(size)
	if err != nil {
		return nil, platformError("allocate gateway", 0, size, err)
	}
	if gateway == 0 {
		return nil, platformError("allocate gateway", 0, size, errors.New("allocator returned a nil address"))
	}

	t := &trampolineHook{gateway: gateway}

	err = t.build(src, length, cfg)
	if err != nil {
		return nil, t.discard(cfg, err)
	}

	t.inlineHook, err = installInline(src, dest, length, cfg)
	if err != nil {
		return nil, t.discard(cfg, err)
	}

	cfg.log.Debug("installed gateway",
		slog.String("source", fmt.Sprintf("0x%x", src)),
		slog.String("gateway", fmt.Sprintf("0x%x", gateway)),
		slog.Int("size", size),
	)

	return t, nil
}

// build fills the gateway with the original bytes at src followed by a jump to
// src+length.
func (t *trampolineHook) build(src uintptr, length int, cfg config) error {
	resume := src + uintptr(length)

	back, err := encodeJump(t.gateway+uintptr(length), resume, cfg.width)
	if err != nil {
		return err
	}

	gw := make([]byte, 0, length+len(back))
	gw = append(gw, codeAt(src, length)...)
	gw = append(gw, back...)

	err = writeBlock(cfg.mem, t.gateway, gw)
	if err != nil {
		return err
	}

	// The gateway is useless if it doesn't get back to the original code.
	code := codeAt(t.gateway, length+len(back))
	target, err := jumpTarget(code[length:], t.gateway+uintptr(length), cfg.width)
	if err != nil {
		return err
	}
	if target != resume {
		return fmt.Errorf("gateway at 0x%x jumps to 0x%x, want 0x%x", t.gateway, target, resume)
	}

	return nil
}

// discard frees the gateway after a failed install and returns cause, joined
// with the free error if there was one.
func (t *trampolineHook) discard(cfg config, cause error) error {
	err := cfg.mem.Free(t.gateway)
	if err != nil {
		return errors.Join(cause, platformError("free gateway", t.gateway, 0, err))
	}
	t.gateway = 0
	return cause
}

func (t *trampolineHook) unhook() error {
	err := t.inlineHook.unhook()
	if err != nil {
		return err
	}

	// Only free the gateway once nothing jumps into it anymore.
	if t.gateway == 0 {
		return nil
	}
	err = t.cfg.mem.Free(t.gateway)
	if err != nil {
		return platformError("free gateway", t.gateway, 0, err)
	}
	t.cfg.log.Debug("freed gateway", slog.String("gateway", fmt.Sprintf("0x%x", t.gateway)))
	t.gateway = 0

	return nil
}

func (t *trampolineHook) release() {
	err := t.unhook()
	if err != nil {
		t.cfg.log.Warn("unable to remove unreachable trampoline hook",
			slog.String("source", fmt.Sprintf("0x%x", t.src)),
			slog.String("gateway", fmt.Sprintf("0x%x", t.gateway)),
			slog.Any("error", err),
		)
	}
}
