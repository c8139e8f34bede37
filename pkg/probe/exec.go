package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ShellProbe invokes the command interpreter with a fixed command string.
//
// The exit status is observed into the Result but never propagated: the
// classic contract ignores it entirely. Commands that would need a PTY are
// skipped instead of wedging a non-interactive harness.
type ShellProbe struct {
	Shell   string
	Command string
	Out     io.Writer // Receives the command's stdout; nil means os.Stdout
	ErrOut  io.Writer // Receives the command's stderr; nil means os.Stderr
}

// Name identifies the probe in journal and metrics labels.
func (p *ShellProbe) Name() string { return "shell" }

// Run executes the command and swallows its exit status.
func (p *ShellProbe) Run(ctx context.Context) Result {
	start := time.Now()

	result := Result{
		Probe: p.Name(),
	}

	if NeedsPTY(p.Command) {
		result.Outcome = OutcomeSkipped
		result.Detail = "command requires a PTY; skipped under non-interactive harness"
		result.Duration = time.Since(start)
		return result
	}

	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := p.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	var captured bytes.Buffer

	cmd := exec.CommandContext(ctx, p.Shell, "-c", p.Command)
	cmd.Stdout = io.MultiWriter(out, &captured)
	cmd.Stderr = errOut
	cmd.Stdin = os.Stdin

	runErr := cmd.Run()
	result.Captured = captured.Bytes()

	if runErr != nil {
		// Observed for the journal only; the sequence continues regardless.
		result.Outcome = OutcomeFail
		result.Detail = fmt.Sprintf("command finished with: %v", runErr)
	} else {
		result.Outcome = OutcomePass
		result.Detail = "exit status 0"
	}

	result.Duration = time.Since(start)
	return result
}
