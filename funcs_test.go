package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInlineFunc_NotAFunction(t *testing.T) {
	fn := func() int { return 1 }

	cases := map[string]struct {
		fn, replacement any
	}{
		"first arg not a function":  {fn: "not a function", replacement: fn},
		"second arg not a function": {fn: fn, replacement: 42},
		"both args not functions":   {fn: []int{1, 2, 3}, replacement: map[string]int{}},
		"nil first arg":             {fn: nil, replacement: fn},
		"nil second arg":            {fn: fn, replacement: nil},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := InlineFunc(tc.fn, tc.replacement, WithMemory(newFakeMemory()))
			assert.ErrorContains(t, err, "not a function")
		})
	}
}

func TestInlineFunc_SignatureMismatch(t *testing.T) {
	cases := map[string]struct {
		fn, replacement any
		want            string
	}{
		"different number of inputs": {
			fn:          func(x int) int { return x },
			replacement: func(x, y int) int { return x + y },
			want:        "argument 1: <nil> != int",
		},
		"different number of outputs": {
			fn:          func() int { return 1 },
			replacement: func() (int, error) { return 1, nil },
			want:        "output 1: <nil> != error",
		},
		"different input types": {
			fn:          func(x int) int { return x },
			replacement: func(x string) int { return len(x) },
			want:        "argument 0: int != string",
		},
		"different output types": {
			fn:          func() int { return 1 },
			replacement: func() string { return "1" },
			want:        "output 0: int != string",
		},
		"variadic": {
			fn:          func(x ...int) int { return len(x) },
			replacement: func(x []int) int { return len(x) },
			want:        "variadic mismatch",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			mem := newFakeMemory()
			_, err := InlineFunc(tc.fn, tc.replacement, WithMemory(mem))
			assert.ErrorContains(t, err, "signatures do not match")
			assert.ErrorContains(t, err, tc.want)
			assert.Empty(t, mem.Calls())
		})
	}
}

func TestInlineFunc_UnsupportedWidth(t *testing.T) {
	fn := func() int { return 1 }
	mem := newFakeMemory()

	_, err := InlineFunc(fn, fn, WithMemory(mem), WithPointerWidth(16))
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Empty(t, mem.Calls())
}
