package probe

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/saworbit/hostprobe/internal/platform"
)

// FileCreatedMessage is the fixed success line the file probe emits.
const FileCreatedMessage = "File created and written"

// FileProbe creates/truncates a file and writes a fixed payload into it.
//
// The probe is fail-open: when the open fails it skips the write silently and
// the sequence continues. The underlying cause is preserved in the Result for
// the journal, but nothing is printed.
type FileProbe struct {
	Path    string
	Payload []byte
	Mode    fs.FileMode
	Out     io.Writer // Receives the fixed success line; nil silences it
}

// Name identifies the probe in journal and metrics labels.
func (p *FileProbe) Name() string { return "file" }

// Run performs the create/write/close sequence.
func (p *FileProbe) Run(_ context.Context) Result {
	start := time.Now()

	result := Result{
		Probe: p.Name(),
		Path:  p.Path,
	}

	path := platform.LongPathname(p.Path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, p.Mode)
	if err != nil {
		// Fail-open: no output, no abort. Record why for the journal.
		result.Outcome = OutcomeFail
		result.Detail = openFailureDetail(path, err)
		result.Duration = time.Since(start)
		return result
	}

	_, writeErr := f.Write(p.Payload)
	closeErr := f.Close()

	// The success line tracks the open, not the write: the handle existed, so
	// the classic contract prints regardless of the write result.
	if p.Out != nil {
		fmt.Fprintln(p.Out, FileCreatedMessage)
	}

	switch {
	case writeErr != nil:
		result.Outcome = OutcomeFail
		result.Detail = fmt.Sprintf("write failed: %v", writeErr)
	case closeErr != nil:
		result.Outcome = OutcomeFail
		result.Detail = fmt.Sprintf("close failed: %v", closeErr)
	default:
		result.Outcome = OutcomePass
		result.Captured = append([]byte(nil), p.Payload...)
	}

	result.Duration = time.Since(start)
	return result
}

func openFailureDetail(path string, err error) string {
	if diag := diagnoseWriteAccess(path); diag != "" {
		return fmt.Sprintf("open failed: %v (%s)", err, diag)
	}
	return fmt.Sprintf("open failed: %v", err)
}
