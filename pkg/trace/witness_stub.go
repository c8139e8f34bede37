//go:build !linux

package trace

import (
	"context"
	"fmt"

	"github.com/saworbit/hostprobe/pkg/config"
)

type stubWitness struct{}

// NewWitness reports unsupported platforms when Linux eBPF is unavailable.
func NewWitness(_ *config.TraceConfig) (Witness, error) {
	return nil, ErrUnsupported
}

func (stubWitness) Start(context.Context) error { return fmt.Errorf("ebpf unavailable") }
func (stubWitness) Close() error                { return nil }
func (stubWitness) Events() <-chan Event        { return nil }
