//go:build linux

package trace

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/saworbit/hostprobe/pkg/config"
)

var _ Witness = (*kernelWitness)(nil)

// bpfObjects mirrors the maps and programs in the user-supplied trace object.
type bpfObjects struct {
	Events          *ebpf.Map     `ebpf:"events"`
	KprobeVfsWrite  *ebpf.Program `ebpf:"kprobe_vfs_write"`
	HandleSchedExec *ebpf.Program `ebpf:"handle_sched_exec"`
}

func (o *bpfObjects) Close() error {
	if o == nil {
		return nil
	}

	if o.Events != nil {
		o.Events.Close()
	}
	if o.KprobeVfsWrite != nil {
		o.KprobeVfsWrite.Close()
	}
	if o.HandleSchedExec != nil {
		o.HandleSchedExec.Close()
	}
	return nil
}

type kernelWitness struct {
	cfg       *config.TraceConfig
	objs      bpfObjects
	links     []link.Link
	sysEvents *ringbuf.Reader

	events chan Event

	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// NewWitness loads the compiled trace object and prepares syscall probes.
// The object is compiled against the running kernel and supplied by the
// operator; there is no embedded fallback.
func NewWitness(cfg *config.TraceConfig) (Witness, error) {
	if cfg == nil || !cfg.Enable {
		return nil, ErrUnsupported
	}
	if cfg.ProgramPath == "" {
		return nil, ErrNoProgram
	}

	bufSize := cfg.EventBufferSize
	if bufSize < 1024 {
		bufSize = 1024
	}

	w := &kernelWitness{
		cfg:    cfg,
		events: make(chan Event, bufSize),
	}

	if err := w.init(); err != nil {
		_ = w.Close()
		return nil, err
	}

	return w, nil
}

func (w *kernelWitness) init() error {
	f, err := os.Open(w.cfg.ProgramPath)
	if err != nil {
		return fmt.Errorf("open trace object (%s): %w", w.cfg.ProgramPath, err)
	}
	defer f.Close()

	spec, err := ebpf.LoadCollectionSpecFromReader(f)
	if err != nil {
		return fmt.Errorf("load trace spec: %w", err)
	}

	var opts ebpf.CollectionOptions
	if err := spec.LoadAndAssign(&w.objs, &opts); err != nil {
		return fmt.Errorf("assign trace objects: %w", err)
	}

	if err := w.attachProbes(); err != nil {
		return err
	}

	return w.setupReader()
}

func (w *kernelWitness) attachProbes() error {
	if w.objs.KprobeVfsWrite != nil {
		var attached bool
		for _, symbol := range []string{"vfs_write", "ksys_write", "__x64_sys_write"} {
			l, err := link.Kprobe(symbol, w.objs.KprobeVfsWrite, nil)
			if err != nil {
				continue
			}
			w.links = append(w.links, l)
			attached = true
			break
		}
		if !attached {
			return fmt.Errorf("failed to attach write probe")
		}
	}

	if w.objs.HandleSchedExec != nil {
		tp, err := link.Tracepoint("sched", "sched_process_exec", w.objs.HandleSchedExec, nil)
		if err != nil {
			return fmt.Errorf("attach exec tracepoint: %w", err)
		}
		w.links = append(w.links, tp)
	}

	return nil
}

func (w *kernelWitness) setupReader() error {
	if w.objs.Events == nil {
		return fmt.Errorf("trace object missing 'events' map")
	}

	reader, err := ringbuf.NewReader(w.objs.Events)
	if err != nil {
		return fmt.Errorf("create ring buffer: %w", err)
	}
	w.sysEvents = reader

	return nil
}

// Start begins draining the ring buffer into the events channel.
func (w *kernelWitness) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if w.sysEvents == nil {
		return fmt.Errorf("ring buffer reader not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.consumeEvents(runCtx)

	w.running = true
	return nil
}

func (w *kernelWitness) consumeEvents(ctx context.Context) {
	defer close(w.events)

	for {
		record, err := w.sysEvents.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Printf("[trace] ringbuf read error: %v", err)
			continue
		}

		event, err := decodeEvent(record.RawSample)
		if err != nil {
			log.Printf("[trace] decode event failed: %v", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case w.events <- event:
		}
	}
}

// Events returns the channel of decoded syscall events.
func (w *kernelWitness) Events() <-chan Event {
	return w.events
}

// Close detaches probes and releases kernel resources.
func (w *kernelWitness) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}

	for _, l := range w.links {
		_ = l.Close()
	}
	w.links = nil

	if w.sysEvents != nil {
		_ = w.sysEvents.Close()
		w.sysEvents = nil
	}

	w.running = false
	return w.objs.Close()
}

func decodeEvent(raw []byte) (Event, error) {
	var payload struct {
		PID   uint32
		_     uint32
		Bytes uint64
		Path  [256]byte
	}

	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &payload); err != nil {
		return Event{}, err
	}

	path := string(bytes.Trim(payload.Path[:], "\x00"))
	return Event{
		PID:       payload.PID,
		Path:      path,
		Bytes:     payload.Bytes,
		Timestamp: time.Now(),
	}, nil
}
