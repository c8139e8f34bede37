package main

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hostprobe/internal/metrics"
	"github.com/saworbit/hostprobe/internal/version"
	"github.com/saworbit/hostprobe/pkg/config"
	"github.com/saworbit/hostprobe/pkg/runner"
	"github.com/saworbit/hostprobe/pkg/store"
	"github.com/saworbit/hostprobe/pkg/trace"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "hostprobe",
		Short:   "HostProbe - host smoke-test flight recorder",
		Version: version.Version,
	}

	root.AddCommand(newRunCmd(), newHistoryCmd(), newExportCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var stateDir string
	var watch bool
	var metricsAddr string
	var traceEnable bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the probe sequence (always exits zero)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runSequence(stateDir, watch, metricsAddr, traceEnable)
			// The sequence is fail-open by contract; recording failures are
			// logged on stderr and never surface in the exit status.
			return nil
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory for Pebble state; empty disables recording")
	cmd.Flags().BoolVar(&watch, "watch", false, "Corroborate the file write with an fsnotify witness")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (e.g. :9151)")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "Enable the kernel syscall witness (Linux only)")
	return cmd
}

func runSequence(stateDir string, watch bool, metricsAddr string, traceEnable bool) {
	cfg := config.LoadFromEnv()
	if traceEnable {
		cfg.Trace.Enable = true
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[run] invalid configuration, falling back to defaults: %v", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if metricsAddr != "" {
		metrics.SetAgentInfo(runtime.GOOS, runtime.GOARCH, version.Version)
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, nil); err != nil {
				log.Printf("[Metrics] endpoint stopped: %v", err)
			}
		}()
	}

	r := &runner.Runner{Config: cfg, Watch: watch}

	var db *pebble.DB
	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			log.Printf("[run] create state dir: %v; continuing unrecorded", err)
		} else {
			var err error
			// A concurrent run holds the Pebble lock; fall back to an
			// unrecorded sequence rather than failing the contract.
			db, err = pebble.Open(stateDir, &pebble.Options{})
			if err != nil {
				log.Printf("[run] open pebble: %v; continuing unrecorded", err)
			}
		}
	}

	if db != nil {
		defer db.Close()

		rec, err := runner.NewRecorder(db, cfg)
		if err != nil {
			log.Printf("[run] init recorder: %v; continuing unrecorded", err)
		} else {
			defer rec.Close()
			r.Recorder = rec
		}
	}

	if cfg.Trace.Enable {
		witness, err := trace.NewWitness(&cfg.Trace)
		switch {
		case err == nil:
			defer witness.Close()
			r.Witness = witness
		case errors.Is(err, trace.ErrUnsupported), errors.Is(err, trace.ErrNoProgram):
			log.Printf("[trace] witness unavailable: %v", err)
		default:
			log.Printf("[trace] witness failed: %v", err)
		}
	}

	_ = r.Run(ctx)

	if r.Recorder != nil {
		// Give the processor a short window to drain the journal before closing.
		time.Sleep(200 * time.Millisecond)
		publishStoreSize(r.Recorder)
	}
}

func publishStoreSize(rec *runner.Recorder) {
	stats, err := rec.CAS.GetStats()
	if err != nil {
		log.Printf("[run] store stats: %v", err)
		return
	}
	metrics.SetStoreSize("cas", stats.TotalSize)
}

func newHistoryCmd() *cobra.Command {
	var stateDir string
	var verify bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs from the state store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runHistory(cmd, stateDir, verify)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().BoolVar(&verify, "verify", false, "Re-verify each run's manifest root")
	return cmd
}

func runHistory(cmd *cobra.Command, stateDir string, verify bool) error {
	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	runs, err := runner.LoadRuns(db)
	if err != nil {
		return fmt.Errorf("load runs: %w", err)
	}

	if len(runs) == 0 {
		cmd.Println("no recorded runs")
		return nil
	}

	cfg := config.LoadFromEnv()
	cas, err := store.NewStore(db, cfg.HashAlgo)
	if err != nil {
		return fmt.Errorf("init CAS: %w", err)
	}

	for _, record := range runs {
		ts := time.Unix(0, record.Timestamp).Format(time.RFC3339)

		var outcomes []string
		for _, result := range record.Results {
			outcomes = append(outcomes, fmt.Sprintf("%s=%s", result.Probe, result.Outcome))
		}

		line := fmt.Sprintf("%s  %s  root=%s", ts, strings.Join(outcomes, " "), shortRoot(record.ManifestRoot))
		if record.DeltaCID != "" {
			line += fmt.Sprintf("  delta=%s(%s)", shortRoot(record.DeltaCID), record.DeltaCodec)
		}
		if record.TraceWitnessed {
			line += "  witnessed"
		}

		if verify {
			if err := runner.VerifyRecord(cas, record); err != nil {
				line += fmt.Sprintf("  VERIFY-FAILED: %v", err)
			} else {
				line += "  verified"
			}
		}

		cmd.Println(line)
	}

	return nil
}

func shortRoot(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}

func newExportCmd() *cobra.Command {
	var stateDir string
	var outPath string

	cmd := &cobra.Command{
		Use:   "export --out <bundle.tar.xz>",
		Short: "Export run records, metadata and captures as a tar.xz bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			if outPath == "" {
				return fmt.Errorf("out path is required")
			}
			return runExport(stateDir, outPath)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&outPath, "out", "", "Destination bundle path (tar.xz)")
	return cmd
}

func runExport(stateDir, outPath string) error {
	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	cfg := config.LoadFromEnv()
	cas, err := store.NewStore(db, cfg.HashAlgo)
	if err != nil {
		return fmt.Errorf("init CAS: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	defer out.Close()

	xzw, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("init xz writer: %w", err)
	}

	tw := tar.NewWriter(xzw)

	if err := exportPrefix(db, tw, store.PrefixRun, "runs"); err != nil {
		return err
	}
	if err := exportPrefix(db, tw, store.PrefixMeta, "metadata"); err != nil {
		return err
	}
	if err := exportObjects(db, cas, tw); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := xzw.Close(); err != nil {
		return fmt.Errorf("finalize xz: %w", err)
	}

	return out.Close()
}

// exportPrefix copies every record under a key prefix into the bundle as a
// JSON file named after the key remainder.
func exportPrefix(db *pebble.DB, tw *tar.Writer, prefix, dir string) error {
	iter, err := store.NewPrefixIter(db, prefix)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := strings.TrimPrefix(string(iter.Key()), prefix)
		name = strings.ReplaceAll(name, ":", "_")

		val := append([]byte(nil), iter.Value()...)
		if err := writeBundleFile(tw, path.Join(dir, name+".json"), val); err != nil {
			return err
		}
	}

	return iter.Error()
}

// exportObjects writes each CAS object decompressed, named by its CID.
func exportObjects(db *pebble.DB, cas *store.Store, tw *tar.Writer) error {
	iter, err := store.NewPrefixIter(db, store.PrefixCAS)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		cid := strings.TrimPrefix(string(iter.Key()), store.PrefixCAS)

		data, err := cas.Get(cid)
		if err != nil {
			return fmt.Errorf("load CAS object %s: %w", cid, err)
		}

		if err := writeBundleFile(tw, path.Join("objects", cid), data); err != nil {
			return err
		}
	}

	return iter.Error()
}

func writeBundleFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar entry %s: %w", name, err)
	}

	return nil
}
