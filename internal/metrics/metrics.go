package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostprobe"

var (
	// Registry is a dedicated Prometheus registry for all hostprobe metrics.
	Registry = prometheus.NewRegistry()

	// ProbeDuration measures time spent in each probe.
	ProbeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_ms",
			Help:      "Duration of probe executions in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"probe"}, // file | shell | file+watch
	)

	// ProbeTotal counts probe executions by probe and outcome.
	ProbeTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_total",
			Help:      "Total number of probe executions",
		},
		[]string{"probe", "outcome"},
	)

	// RunsTotal counts complete probe sequences.
	RunsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of completed probe sequences",
		},
	)

	// DeltasTotal counts stored payload deltas grouped by codec.
	DeltasTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Number of payload deltas written",
		},
		[]string{"codec"}, // zstd | xz
	)

	// StoreSizeBytes tracks the on-disk footprint of the state store.
	StoreSizeBytes = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_size_bytes",
			Help:      "On-disk size of the journal/CAS store",
		},
		[]string{"type"}, // cas | journal
	)

	// AgentInfo exposes static information about the running binary.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the agent",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is a liveness gauge.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the agent is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetAgentInfo publishes a single info metric for the running binary.
func SetAgentInfo(osName, arch, version string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if version == "" {
		version = "dev"
	}
	AgentInfo.WithLabelValues(osName, arch, version).Set(1)
}

// ObserveProbe records timing and counters for a probe execution.
func ObserveProbe(start time.Time, probe, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	ProbeDuration.WithLabelValues(probe).Observe(elapsed)
	ProbeTotal.WithLabelValues(probe, outcome).Inc()
}

// ObserveRun counts a completed probe sequence.
func ObserveRun() {
	RunsTotal.Inc()
}

// AddDelta increments the delta counter for a specific codec.
func AddDelta(codec string) {
	DeltasTotal.WithLabelValues(codec).Inc()
}

// SetStoreSize reports store footprint by category.
func SetStoreSize(kind string, sizeBytes int64) {
	if sizeBytes < 0 {
		return
	}
	StoreSizeBytes.WithLabelValues(kind).Set(float64(sizeBytes))
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[Metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
