package runner

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hostprobe/internal/metrics"
	"github.com/saworbit/hostprobe/pkg/config"
	"github.com/saworbit/hostprobe/pkg/delta"
	"github.com/saworbit/hostprobe/pkg/journal"
	"github.com/saworbit/hostprobe/pkg/manifest"
	"github.com/saworbit/hostprobe/pkg/probe"
	"github.com/saworbit/hostprobe/pkg/store"
	"github.com/saworbit/hostprobe/pkg/trace"
)

// The fixed stdout contract. These lines, their order, and the always-zero
// exit status are load-bearing: downstream harnesses grep for them.
const (
	StartupLine  = "Test program starting"
	CompleteLine = "Test program complete"
)

// ResultSummary is the persisted view of a single probe result.
type ResultSummary struct {
	Probe    string `json:"probe"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
	CID      string `json:"cid,omitempty"`
	Duration int64  `json:"duration_ns"`
}

// RunRecord is stored under the run: prefix, one per recorded sequence.
type RunRecord struct {
	Timestamp      int64           `json:"ts"`
	Results        []ResultSummary `json:"results"`
	ManifestRoot   string          `json:"manifest_root"` // hex Merkle root over result CIDs
	DeltaCID       string          `json:"delta_cid,omitempty"`
	DeltaCodec     string          `json:"delta_codec,omitempty"`
	TraceWitnessed bool            `json:"trace_witnessed,omitempty"`
}

// Recorder bundles the persistence stack for recorded runs.
type Recorder struct {
	DB      *pebble.DB
	CAS     *store.Store
	Journal *journal.Journal
	Engine  delta.Engine
	Codec   delta.Codec

	stopProcessor context.CancelFunc
}

// NewRecorder opens the persistence stack on top of an already-open Pebble
// instance and starts the background journal processor.
func NewRecorder(db *pebble.DB, cfg *config.Config) (*Recorder, error) {
	cas, err := store.NewStore(db, cfg.HashAlgo)
	if err != nil {
		return nil, fmt.Errorf("init CAS: %w", err)
	}

	engine, err := delta.NewEngine("bsdiff")
	if err != nil {
		return nil, fmt.Errorf("init delta engine: %w", err)
	}

	codec, err := delta.NewCodec(cfg.DeltaCodec)
	if err != nil {
		return nil, fmt.Errorf("init delta codec: %w", err)
	}

	return &Recorder{
		DB:            db,
		CAS:           cas,
		Journal:       journal.NewJournal(db),
		Engine:        engine,
		Codec:         codec,
		stopProcessor: journal.StartProcessor(db, cas),
	}, nil
}

// Close stops the journal processor and flushes outstanding writes.
func (r *Recorder) Close() error {
	if r.stopProcessor != nil {
		r.stopProcessor()
		r.stopProcessor = nil
	}
	return r.DB.Flush()
}

// Runner executes the fixed probe sequence.
type Runner struct {
	Config *config.Config

	Out    io.Writer // Defaults to os.Stdout
	ErrOut io.Writer // Defaults to os.Stderr

	// Recorder enables run recording; nil means pure smoke mode.
	Recorder *Recorder

	// Watch wraps the file probe with the fsnotify witness.
	Watch bool

	// Witness corroborates probe side effects from kernel space; optional.
	Witness trace.Witness
}

// Run performs the sequence. It always returns nil: every failure along the
// way is fail-open by contract, observed only in the journal and metrics.
func (r *Runner) Run(ctx context.Context) error {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := r.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	cfg := r.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	witnessCtx, witnessCancel := context.WithCancel(ctx)
	defer witnessCancel()

	if r.Witness != nil {
		if err := r.Witness.Start(witnessCtx); err != nil {
			log.Printf("[trace] witness failed to start: %v", err)
			r.Witness = nil
		}
	}

	fmt.Fprintln(out, StartupLine)

	var fileProbe probe.Probe = &probe.FileProbe{
		Path:    cfg.TargetPath,
		Payload: cfg.Payload,
		Mode:    cfg.FileMode,
		Out:     out,
	}
	if r.Watch {
		fileProbe = &probe.WatchProbe{
			Inner:  fileProbe,
			Target: cfg.TargetPath,
			Settle: cfg.SettleWindow,
		}
	}

	shellProbe := &probe.ShellProbe{
		Shell:   cfg.Shell,
		Command: cfg.ShellCommand,
		Out:     out,
		ErrOut:  errOut,
	}

	// Snapshot the previous capture before this run journals a new one.
	var prevData []byte
	if r.Recorder != nil {
		prevData = r.previousCapture(cfg.TargetPath)
	}

	results := make([]probe.Result, 0, 2)
	for _, p := range []probe.Probe{fileProbe, shellProbe} {
		start := time.Now()
		result := p.Run(ctx)
		metrics.ObserveProbe(start, result.Probe, string(result.Outcome))

		if r.Recorder != nil {
			if err := r.Recorder.Journal.LogResult(result.Probe, string(result.Outcome), result.Detail, result.Path, result.Captured); err != nil {
				log.Printf("[runner] journal write failed: %v", err)
			}
		}

		results = append(results, result)
	}

	fmt.Fprintln(out, CompleteLine)
	metrics.ObserveRun()

	if r.Recorder != nil {
		if err := r.record(results, prevData); err != nil {
			log.Printf("[runner] run record failed: %v", err)
		}
	}

	return nil
}

// previousCapture loads the content the file probe wrote on the last
// recorded run, or nil when this is the first one.
func (r *Runner) previousCapture(path string) []byte {
	meta, err := journal.LatestCapture(r.Recorder.DB, path)
	if err != nil {
		log.Printf("[runner] previous capture lookup failed: %v", err)
		return nil
	}
	if meta == nil {
		return nil
	}

	data, err := r.Recorder.CAS.Get(meta.CID)
	if err != nil {
		log.Printf("[runner] previous capture load failed: %v", err)
		return nil
	}

	return data
}

func (r *Runner) record(results []probe.Result, prevData []byte) error {
	rec := r.Recorder

	record := RunRecord{
		Timestamp: time.Now().UnixNano(),
	}

	var cids []string
	for _, result := range results {
		summary := ResultSummary{
			Probe:    result.Probe,
			Outcome:  string(result.Outcome),
			Detail:   result.Detail,
			Duration: int64(result.Duration),
		}

		if len(result.Captured) > 0 {
			cid, err := rec.CAS.Put(result.Captured)
			if err != nil {
				return fmt.Errorf("store capture: %w", err)
			}
			summary.CID = cid
		}

		raw, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}

		cid, err := rec.CAS.ComputeCID(raw)
		if err != nil {
			return fmt.Errorf("summary CID: %w", err)
		}
		cids = append(cids, cid)

		record.Results = append(record.Results, summary)
	}

	root, err := manifest.Root(cids)
	if err != nil {
		return fmt.Errorf("run manifest: %w", err)
	}
	record.ManifestRoot = hex.EncodeToString(root)

	if newData := capturedPayload(results); len(newData) > 0 {
		patch, err := rec.Engine.ComputeDelta(prevData, newData)
		if err != nil {
			return fmt.Errorf("compute delta: %w", err)
		}

		compressed, err := rec.Codec.Compress(patch)
		if err != nil {
			return fmt.Errorf("compress delta: %w", err)
		}

		cid, err := rec.CAS.Put(compressed)
		if err != nil {
			return fmt.Errorf("store delta: %w", err)
		}

		record.DeltaCID = cid
		record.DeltaCodec = rec.Codec.Name()
		metrics.AddDelta(rec.Codec.Name())
	}

	if r.Witness != nil {
		record.TraceWitnessed = r.drainWitness()
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d", store.PrefixRun, record.Timestamp))
	if err := rec.DB.Set(key, raw, pebble.Sync); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}

	return nil
}

// drainWitness gives the kernel witness a short window to surface an event
// that touches the target path.
func (r *Runner) drainWitness() bool {
	cfg := r.Config
	if cfg == nil {
		return false
	}

	deadline := time.NewTimer(cfg.SettleWindow)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return false
		case evt, ok := <-r.Witness.Events():
			if !ok {
				return false
			}
			if strings.Contains(evt.Path, cfg.TargetPath) || strings.HasSuffix(cfg.TargetPath, evt.Path) {
				return true
			}
		}
	}
}

func capturedPayload(results []probe.Result) []byte {
	for _, result := range results {
		if strings.HasPrefix(result.Probe, "file") && len(result.Captured) > 0 {
			return result.Captured
		}
	}
	return nil
}

// LoadRuns reads all run records from the store, oldest first.
func LoadRuns(db *pebble.DB) ([]RunRecord, error) {
	iter, err := store.NewPrefixIter(db, store.PrefixRun)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var runs []RunRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var record RunRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			log.Printf("[runner] skip corrupt run record %s: %v", string(iter.Key()), err)
			continue
		}
		runs = append(runs, record)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return runs, nil
}

// VerifyRecord rebuilds the manifest for a stored run and compares roots.
func VerifyRecord(cas *store.Store, record RunRecord) error {
	var cids []string
	for _, summary := range record.Results {
		raw, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}

		cid, err := cas.ComputeCID(raw)
		if err != nil {
			return fmt.Errorf("summary CID: %w", err)
		}
		cids = append(cids, cid)
	}

	expected, err := hex.DecodeString(record.ManifestRoot)
	if err != nil {
		return fmt.Errorf("decode manifest root: %w", err)
	}

	return manifest.VerifyRun(cids, expected)
}
