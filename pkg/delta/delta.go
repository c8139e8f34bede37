package delta

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Engine computes binary deltas between consecutive captures of a file
type Engine interface {
	// ComputeDelta computes the binary diff between old and new data
	ComputeDelta(oldData, newData []byte) ([]byte, error)

	// ApplyDelta applies a patch to base data to produce new data
	ApplyDelta(baseData, patchData []byte) ([]byte, error)

	// Name returns the name of the engine
	Name() string
}

// NewEngine creates the delta engine. Only bsdiff is supported today; the
// argument exists so a future engine can slot in behind config.
func NewEngine(library string) (Engine, error) {
	switch library {
	case "bsdiff":
		return &bsdiffEngine{}, nil
	default:
		return nil, fmt.Errorf("unsupported delta library: %s (must be 'bsdiff')", library)
	}
}

// Stats holds statistics about a delta operation
type Stats struct {
	OldSize         int     // Size of old data
	NewSize         int     // Size of new data
	PatchSize       int     // Size of patch data
	CompressionRate float64 // Patch size / new size (lower is better)
}

// ComputeStats calculates statistics for a delta operation
func ComputeStats(oldData, newData, patchData []byte) Stats {
	stats := Stats{
		OldSize:   len(oldData),
		NewSize:   len(newData),
		PatchSize: len(patchData),
	}

	if len(newData) > 0 {
		stats.CompressionRate = float64(len(patchData)) / float64(len(newData))
	}

	return stats
}

type bsdiffEngine struct{}

// Name returns the name of the engine
func (e *bsdiffEngine) Name() string {
	return "bsdiff"
}

// ComputeDelta computes a binary diff using bsdiff
func (e *bsdiffEngine) ComputeDelta(oldData, newData []byte) ([]byte, error) {
	if len(oldData) == 0 && len(newData) == 0 {
		return []byte{}, nil
	}

	// Empty old data means a first capture: there is nothing to diff against,
	// so the "patch" is the full content (snapshot case).
	if len(oldData) == 0 {
		return newData, nil
	}

	patch, err := bsdiff.Bytes(oldData, newData)
	if err != nil {
		return nil, fmt.Errorf("bsdiff computation failed: %w", err)
	}

	return patch, nil
}

// ApplyDelta applies a bsdiff patch to base data
func (e *bsdiffEngine) ApplyDelta(baseData, patchData []byte) ([]byte, error) {
	if len(patchData) == 0 {
		return baseData, nil
	}

	if len(baseData) == 0 {
		// The "patch" is actually the full file data (snapshot case).
		return patchData, nil
	}

	newData, err := bspatch.Bytes(baseData, patchData)
	if err != nil {
		return nil, fmt.Errorf("bspatch application failed: %w", err)
	}

	return newData, nil
}
