package trace

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned when the current platform cannot host eBPF programs.
var ErrUnsupported = errors.New("syscall tracing is only supported on Linux kernels >= 4.18")

// ErrNoProgram is returned when tracing is enabled without a compiled object.
var ErrNoProgram = errors.New("no trace program configured (set HOSTPROBE_TRACE_PROGRAM)")

// Event represents a captured write or exec syscall.
type Event struct {
	PID       uint32
	Path      string // Path touched by a write, or the executed image
	Bytes     uint64
	Timestamp time.Time
}

// Witness exposes kernel-level corroboration of probe side effects.
type Witness interface {
	Start(ctx context.Context) error
	Close() error
	Events() <-chan Event
}
