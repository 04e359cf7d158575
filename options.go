package hook

import "log/slog"

// Option configures a hook.
type Option func(*config)

type config struct {
	mem   Memory
	log   *slog.Logger
	width int
}

func newConfig(opts []Option) config {
	cfg := config{
		mem:   OSMemory(),
		log:   slog.New(slog.DiscardHandler),
		width: hostPointerWidth(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMemory replaces the OS memory services. The default is OSMemory().
func WithMemory(mem Memory) Option {
	return func(cfg *config) {
		if mem != nil {
			cfg.mem = mem
		}
	}
}

// WithLogger sets the logger for install and removal records, and for
// failures during automatic cleanup. Nothing is logged by default.
func WithLogger(log *slog.Logger) Option {
	return func(cfg *config) {
		if log != nil {
			cfg.log = log
		}
	}
}

// WithPointerWidth overrides the pointer width, in bits, used to pick the jump
// encoding. Only 32 and 64 are accepted by Inline and Trampoline.
//
// This is for patching memory whose code targets a different architecture
// than the running process, such as a buffer being prepared for another
// process. Patching live code with the wrong width will crash.
func WithPointerWidth(bits int) Option {
	return func(cfg *config) {
		cfg.width = bits
	}
}
