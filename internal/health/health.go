// Package health reports the liveness of the ingestion loop over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of the worker.
type Status string

const (
	// StatusOK indicates the worker is healthy.
	StatusOK Status = "ok"

	// StatusStarting indicates no cycle has completed yet.
	StatusStarting Status = "starting"

	// StatusUnhealthy indicates a component failed and the loop stopped.
	StatusUnhealthy Status = "unhealthy"
)

// Tracked components.
const (
	ComponentBroker = "broker"
	ComponentSink   = "sink"
)

// ComponentHealth represents the health of one dependency.
type ComponentHealth struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	Errors      int        `json:"errors"`
	LastError   string     `json:"lastError,omitempty"`
}

// Report is the full health report.
type Report struct {
	Status          Status            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartedAt       time.Time         `json:"startedAt"`
	Components      []ComponentHealth `json:"components"`
	Cycles          int64             `json:"cycles"`
	LastCycle       *time.Time        `json:"lastCycle,omitempty"`
	BufferSize      int               `json:"bufferSize"`
	LastAckSequence uint64            `json:"lastAckSequence,omitempty"`
}

// Checker collects the state the ingestion loop publishes after each cycle.
type Checker struct {
	startedAt time.Time
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.RWMutex
	components map[string]*ComponentHealth
	order      []string
	cycles     int64
	lastCycle  *time.Time
	bufferSize int
	lastAck    uint64
}

// NewChecker creates a checker tracking the broker and sink components.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Checker{
		startedAt:  time.Now(),
		logger:     logger.With("component", "health"),
		now:        time.Now,
		components: make(map[string]*ComponentHealth),
	}
	h.register(ComponentBroker)
	h.register(ComponentSink)
	return h
}

func (h *Checker) register(name string) {
	h.components[name] = &ComponentHealth{Name: name, Status: StatusStarting}
	h.order = append(h.order, name)
}

// RecordSuccess marks a component as working.
func (h *Checker) RecordSuccess(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[component]; ok {
		now := h.now()
		c.LastSuccess = &now
		c.Status = StatusOK
	}
}

// RecordError marks a component as failed. The loop does not retry
// internally, so one error is enough to report unhealthy.
func (h *Checker) RecordError(component string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[component]; ok {
		c.Errors++
		c.Status = StatusUnhealthy
		if err != nil {
			c.LastError = err.Error()
		}
	}
}

// RecordCycle records a completed cycle with the carried buffer size and
// the cursor acknowledged by it (zero when nothing was acknowledged).
func (h *Checker) RecordCycle(bufferSize int, ackSequence uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.cycles++
	h.lastCycle = &now
	h.bufferSize = bufferSize
	if ackSequence > 0 {
		h.lastAck = ackSequence
	}
}

// GetReport returns the current health report.
func (h *Checker) GetReport() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := Report{
		Status:          StatusOK,
		Uptime:          h.now().Sub(h.startedAt).Round(time.Second).String(),
		StartedAt:       h.startedAt,
		Components:      make([]ComponentHealth, 0, len(h.order)),
		Cycles:          h.cycles,
		LastCycle:       h.lastCycle,
		BufferSize:      h.bufferSize,
		LastAckSequence: h.lastAck,
	}

	for _, name := range h.order {
		c := h.components[name]
		report.Components = append(report.Components, *c)

		switch c.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusStarting:
			if report.Status == StatusOK {
				report.Status = StatusStarting
			}
		}
	}

	return report
}

// Check returns the overall health status.
func (h *Checker) Check() Status {
	return h.GetReport().Status
}

// ServeHTTP implements http.Handler for the health endpoint. Only an
// unhealthy worker answers 503.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.GetReport()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("failed to encode health report", "error", err)
	}
}

// StartServer serves the checker on addr at path until ctx is cancelled.
func StartServer(ctx context.Context, addr, path string, checker *Checker) error {
	mux := http.NewServeMux()
	mux.Handle(path, checker)

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

	checker.logger.Info("health server starting", "address", addr, "path", path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
