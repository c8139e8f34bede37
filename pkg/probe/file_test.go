package probe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileProbeWritesPayload(t *testing.T) {
	target := filepath.Join(t.TempDir(), "test_file.txt")
	payload := []byte("Hello from test program\n")

	var out bytes.Buffer
	p := &FileProbe{
		Path:    target,
		Payload: payload,
		Mode:    0o644,
		Out:     &out,
	}

	result := p.Run(context.Background())

	if result.Outcome != OutcomePass {
		t.Fatalf("Expected pass, got %s (%s)", result.Outcome, result.Detail)
	}

	if out.String() != FileCreatedMessage+"\n" {
		t.Errorf("Expected success line, got %q", out.String())
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read target: %v", err)
	}
	if !bytes.Equal(content, payload) {
		t.Errorf("Content mismatch.\nExpected: %q\nGot: %q", payload, content)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Failed to stat target: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o600 != 0o600 {
		t.Errorf("Expected owner read/write bits, got %o", perm)
	}
}

func TestFileProbeTruncatesNotAppends(t *testing.T) {
	target := filepath.Join(t.TempDir(), "test_file.txt")

	longer := []byte("a much longer line of content that should disappear entirely\n")
	if err := os.WriteFile(target, longer, 0o644); err != nil {
		t.Fatalf("Failed to seed target: %v", err)
	}

	payload := []byte("short\n")
	p := &FileProbe{
		Path:    target,
		Payload: payload,
		Mode:    0o644,
	}

	if result := p.Run(context.Background()); result.Outcome != OutcomePass {
		t.Fatalf("Expected pass, got %s (%s)", result.Outcome, result.Detail)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read target: %v", err)
	}
	if !bytes.Equal(content, payload) {
		t.Errorf("Expected truncation to leave only %q, got %q", payload, content)
	}
}

func TestFileProbeFailOpenOnBadPath(t *testing.T) {
	// Using a regular file as a directory component fails the open even when
	// running as root, unlike permission bits.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	var out bytes.Buffer
	p := &FileProbe{
		Path:    filepath.Join(blocker, "test_file.txt"),
		Payload: []byte("never written"),
		Mode:    0o644,
		Out:     &out,
	}

	result := p.Run(context.Background())

	if result.Outcome != OutcomeFail {
		t.Errorf("Expected fail outcome, got %s", result.Outcome)
	}

	// Fail-open: nothing on stdout when the open fails.
	if out.Len() != 0 {
		t.Errorf("Expected silence on open failure, got %q", out.String())
	}

	if result.Detail == "" {
		t.Error("Expected failure detail for the journal")
	}
}

func TestFileProbeNilOutIsSilent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "test_file.txt")

	p := &FileProbe{
		Path:    target,
		Payload: []byte("quiet\n"),
		Mode:    0o644,
	}

	// Must not panic with a nil writer.
	if result := p.Run(context.Background()); result.Outcome != OutcomePass {
		t.Fatalf("Expected pass, got %s", result.Outcome)
	}
}
