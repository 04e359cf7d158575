package hook

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
)

// InlineHook redirects the code at a source address to a destination by
// overwriting the start of it with a jump. The overwritten bytes are kept so
// the original code can be put back.
//
// An InlineHook may be passed between goroutines, but Unhook must not be
// called concurrently on the same hook. If an active hook becomes unreachable
// it's removed by a cleanup; keep it reachable for as long as the redirect is
// wanted.
type InlineHook struct {
	h       *inlineHook
	cleanup runtime.Cleanup
}

// Inline overwrites the first length bytes at source with a jump to
// destination.
//
// length must be at least MinLen() and must end on an instruction boundary.
// Nothing but the jump is executed from the region while it's hooked, but no
// other thread may be executing inside it while it's written.
//
// ErrInvalidTarget is returned if the architecture isn't supported and
// ErrTooSmall if length can't hold a jump. Neither touches memory. If page
// protection can't be changed a *PlatformError is returned; if that happens
// while restoring the protection, the jump has already been written and is
// left in place.
func Inline(source, destination uintptr, length int, opts ...Option) (*InlineHook, error) {
	cfg := newConfig(opts)

	h, err := installInline(source, destination, length, cfg)
	if err != nil {
		return nil, err
	}

	ih := &InlineHook{h: h}
	ih.cleanup = runtime.AddCleanup(ih, (*inlineHook).release, h)
	return ih, nil
}

// Unhook writes the original bytes back. It does nothing if the hook isn't
// active. On error the hook stays active and Unhook may be retried.
func (ih *InlineHook) Unhook() error {
	err := ih.h.unhook()
	if err != nil {
		return err
	}
	ih.cleanup.Stop()
	return nil
}

// Close is the same as Unhook.
func (ih *InlineHook) Close() error {
	return ih.Unhook()
}

// Active reports whether the jump is installed.
func (ih *InlineHook) Active() bool {
	return ih.h.active
}

// Source returns the hooked address.
func (ih *InlineHook) Source() uintptr {
	return ih.h.src
}

// Len returns the number of bytes replaced at Source.
func (ih *InlineHook) Len() int {
	return len(ih.h.saved)
}

// inlineHook is the state behind an InlineHook. It's separate so the cleanup
// can hold it without keeping the InlineHook reachable.
type inlineHook struct {
	cfg    config
	src    uintptr
	saved  []byte
	active bool
}

// checkRegion validates a patch region before anything is allocated or
// written.
func checkRegion(src, dest uintptr, length int, cfg config) error {
	size, err := jumpSize(cfg.width)
	if err != nil {
		return err
	}
	if length < size {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrTooSmall, length, size)
	}
	if src == 0 || dest == 0 {
		return fmt.Errorf("%w: nil address", ErrInvalidTarget)
	}
	return nil
}

func installInline(src, dest uintptr, length int, cfg config) (*inlineHook, error) {
	err := checkRegion(src, dest, length, cfg)
	if err != nil {
		return nil, err
	}

	patch, err := patchBytes(src, dest, length, cfg.width)
	if err != nil {
		return nil, err
	}

	h := &inlineHook{
		cfg:   cfg,
		src:   src,
		saved: make([]byte, length),
	}

	err = writeProtected(cfg.mem, src, length, func(code []byte) {
		copy(h.saved, code)
		copy(code, patch)
	})
	if err != nil {
		return nil, err
	}
	h.active = true

	if cfg.log.Enabled(context.Background(), slog.LevelDebug) {
		cfg.log.Debug("installed inline hook",
			slog.String("source", fmt.Sprintf("0x%x", src)),
			slog.String("destination", fmt.Sprintf("0x%x", dest)),
			slog.Int("length", length),
			slog.String("code", disassemble(patch, src, cfg.width)),
		)
	}

	return h, nil
}

func (h *inlineHook) unhook() error {
	if !h.active {
		return nil
	}

	err := writeProtected(h.cfg.mem, h.src, len(h.saved), func(code []byte) {
		copy(code, h.saved)
	})
	if err != nil {
		return err
	}
	h.active = false

	h.cfg.log.Debug("removed inline hook", slog.String("source", fmt.Sprintf("0x%x", h.src)))
	return nil
}

// release is the cleanup for an unreachable InlineHook.
func (h *inlineHook) release() {
	err := h.unhook()
	if err != nil {
		h.cfg.log.Warn("unable to remove unreachable inline hook",
			slog.String("source", fmt.Sprintf("0x%x", h.src)),
			slog.Any("error", err),
		)
	}
}
