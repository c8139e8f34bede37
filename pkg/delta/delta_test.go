package delta

import (
	"bytes"
	"testing"
)

func TestComputeApplyRoundTrip(t *testing.T) {
	engine, err := NewEngine("bsdiff")
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	oldData := []byte("Hello from test program\n")
	newData := []byte("Hello from the second run of the test program\n")

	patch, err := engine.ComputeDelta(oldData, newData)
	if err != nil {
		t.Fatalf("ComputeDelta failed: %v", err)
	}

	restored, err := engine.ApplyDelta(oldData, patch)
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}

	if !bytes.Equal(restored, newData) {
		t.Errorf("Round trip mismatch.\nExpected: %q\nGot: %q", newData, restored)
	}
}

func TestComputeDeltaEmptyOldIsSnapshot(t *testing.T) {
	engine, err := NewEngine("bsdiff")
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	newData := []byte("first capture has no base")

	patch, err := engine.ComputeDelta(nil, newData)
	if err != nil {
		t.Fatalf("ComputeDelta failed: %v", err)
	}

	if !bytes.Equal(patch, newData) {
		t.Error("Expected snapshot patch to equal new data")
	}

	restored, err := engine.ApplyDelta(nil, patch)
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}

	if !bytes.Equal(restored, newData) {
		t.Errorf("Snapshot restore mismatch.\nExpected: %q\nGot: %q", newData, restored)
	}
}

func TestNewEngineRejectsUnknownLibrary(t *testing.T) {
	if _, err := NewEngine("xdelta"); err == nil {
		t.Error("Expected error for unsupported library")
	}
}

func TestComputeStats(t *testing.T) {
	oldData := []byte("0123456789")
	newData := []byte("01234567890123456789")
	patch := []byte("patch")

	stats := ComputeStats(oldData, newData, patch)

	if stats.OldSize != 10 || stats.NewSize != 20 || stats.PatchSize != 5 {
		t.Errorf("Unexpected sizes: %+v", stats)
	}

	if stats.CompressionRate != 0.25 {
		t.Errorf("Expected compression rate 0.25, got %f", stats.CompressionRate)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("Hello from test program\n"), 64)

	for _, name := range []string{"zstd", "xz"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			if err != nil {
				t.Fatalf("Failed to create codec: %v", err)
			}

			compressed, err := codec.Compress(payload)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}

			if len(compressed) >= len(payload) {
				t.Logf("Warning: compressed size (%d) >= original size (%d)", len(compressed), len(payload))
			}

			restored, err := codec.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}

			if !bytes.Equal(restored, payload) {
				t.Error("Codec round trip mismatch")
			}
		})
	}
}

func TestNewCodecRejectsUnknownName(t *testing.T) {
	if _, err := NewCodec("brotli"); err == nil {
		t.Error("Expected error for unsupported codec")
	}
}
