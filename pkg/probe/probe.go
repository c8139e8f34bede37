package probe

import (
	"context"
	"time"
)

// Outcome classifies how a probe finished. The outcome is recorded in the
// journal and metrics only; it never changes the process exit status.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeSkipped Outcome = "skipped"
)

// Result captures a single probe observation.
type Result struct {
	Probe    string
	Outcome  Outcome
	Detail   string
	Path     string // Filesystem path touched, if any
	Captured []byte // Payload written or command output captured
	Duration time.Duration
}

// Probe is a single OS-primitive check. Run must not panic and must not let
// any failure escape to the caller: the sequence is fail-open end to end.
type Probe interface {
	Name() string
	Run(ctx context.Context) Result
}
