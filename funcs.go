package hook

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
)

// InlineFunc redirects the Go function fn to replacement. Both must be
// functions with identical signatures. The jump is the smallest one for the
// architecture.
//
// If fn has been inlined at a call site, that call site is unaffected. Add a
// noinline directive to fn to avoid that:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
//
// replacement must not be a closure that captures variables, since it runs
// with fn's closure context.
func InlineFunc(fn, replacement any, opts ...Option) (*InlineHook, error) {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	newFnv := reflect.ValueOf(replacement)
	if newFnv.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function, kind: %v", newFnv.Kind())
	}
	err := signatureDiff(fnv.Type(), newFnv.Type())
	if err != nil {
		return nil, fmt.Errorf("function signatures do not match: %w", err)
	}

	cfg := newConfig(opts)
	length, err := jumpSize(cfg.width)
	if err != nil {
		return nil, err
	}

	entry := fnv.Pointer()
	if f := runtime.FuncForPC(entry + uintptr(length) - 1); f == nil || f.Entry() != entry {
		return nil, fmt.Errorf("%w: function at 0x%x is shorter than a %d byte jump", ErrTooSmall, entry, length)
	}

	return Inline(entry, newFnv.Pointer(), length, opts...)
}

// signatureDiff returns an error describing every argument and result that
// differs between a and b, or nil if they match.
func signatureDiff(a, b reflect.Type) error {
	var errs []error

	for i := 0; i < max(a.NumIn(), b.NumIn()); i++ {
		var at, bt reflect.Type
		if i < a.NumIn() {
			at = a.In(i)
		}
		if i < b.NumIn() {
			bt = b.In(i)
		}
		if at != bt {
			errs = append(errs, fmt.Errorf("argument %d: %v != %v", i, at, bt))
		}
	}

	for i := 0; i < max(a.NumOut(), b.NumOut()); i++ {
		var at, bt reflect.Type
		if i < a.NumOut() {
			at = a.Out(i)
		}
		if i < b.NumOut() {
			bt = b.Out(i)
		}
		if at != bt {
			errs = append(errs, fmt.Errorf("output %d: %v != %v", i, at, bt))
		}
	}

	if a.IsVariadic() != b.IsVariadic() {
		errs = append(errs, errors.New("variadic mismatch"))
	}

	return errors.Join(errs...)
}
