package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for MessagesDropped.
const (
	DropDuplicate = "duplicate"
	DropForeign   = "foreign"
	DropFiltered  = "filtered"
)

// Cycle stages for CycleErrors.
const (
	StageFetch   = "fetch"
	StageDecode  = "decode"
	StageFilter  = "filter"
	StagePersist = "persist"
	StageAck     = "ack"
)

// Recorder groups the collectors the ingestion loop writes to.
type Recorder struct {
	// Broker
	MessagesFetched prometheus.Counter
	MessagesDropped *prometheus.CounterVec
	PendingMessages prometheus.Gauge
	AckSequence     prometheus.Gauge

	// Stitching
	BufferedRecords prometheus.Gauge

	// Sink
	ChangesPersisted prometheus.Counter
	PersistLatency   prometheus.Histogram

	// Errors
	CycleErrors *prometheus.CounterVec
}

func newRecorder() *Recorder {
	return &Recorder{
		MessagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdc_stitcher_messages_fetched_total",
			Help: "The total number of messages fetched from the broker",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdc_stitcher_messages_dropped_total",
			Help: "The total number of messages or records dropped before persisting",
		}, []string{"reason"}),
		PendingMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cdc_stitcher_pending_messages",
			Help: "The number of messages the broker reported as pending",
		}),
		AckSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cdc_stitcher_ack_sequence",
			Help: "The last acknowledged stream sequence",
		}),
		BufferedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cdc_stitcher_buffered_records",
			Help: "The number of records carried to the next cycle",
		}),
		ChangesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdc_stitcher_changes_persisted_total",
			Help: "The total number of changes handed to the sink",
		}),
		PersistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "cdc_stitcher_persist_latency_seconds",
			Help: "The latency of persisting one cycle's changes",
		}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdc_stitcher_cycle_errors_total",
			Help: "The total number of failed cycles by stage",
		}, []string{"stage"}),
	}
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.MessagesFetched,
		r.MessagesDropped,
		r.PendingMessages,
		r.AckSequence,
		r.BufferedRecords,
		r.ChangesPersisted,
		r.PersistLatency,
		r.CycleErrors,
	}
}

// NewRecorder creates a set of collectors registered with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := newRecorder()
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var defaultRecorder = newRecorder()

// Default returns the recorder registered with the default registry.
func Default() *Recorder {
	return defaultRecorder
}

// Collectors of the default recorder.
var (
	MessagesFetched  = defaultRecorder.MessagesFetched
	MessagesDropped  = defaultRecorder.MessagesDropped
	PendingMessages  = defaultRecorder.PendingMessages
	AckSequence      = defaultRecorder.AckSequence
	BufferedRecords  = defaultRecorder.BufferedRecords
	ChangesPersisted = defaultRecorder.ChangesPersisted
	PersistLatency   = defaultRecorder.PersistLatency
	CycleErrors      = defaultRecorder.CycleErrors
)

func init() {
	prometheus.MustRegister(defaultRecorder.collectors()...)
}

// StartServer serves the default registry on addr at path until ctx is
// cancelled.
func StartServer(ctx context.Context, addr, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server starting", "address", addr, "path", path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
