// Package metrics provides Prometheus metrics for metastream
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for metastream.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Data source operations (open, load, save, push, ...)
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Record graph traffic
	RecordsLoadedTotal  prometheus.Counter
	RecordsSavedTotal   prometheus.Counter
	RecordsRemovedTotal prometheus.Counter

	// Envelope and container
	TransformsTotal *prometheus.CounterVec
	PacketBytes     prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastream_operations_total",
			Help: "Total number of data source operations",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metastream_operation_duration_seconds",
			Help:    "Duration of data source operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.RecordsLoadedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastream_records_loaded_total",
			Help: "Total number of records materialized from documents",
		},
	)

	m.RecordsSavedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastream_records_saved_total",
			Help: "Total number of records written to documents",
		},
	)

	m.RecordsRemovedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastream_records_removed_total",
			Help: "Total number of records removed from documents",
		},
	)

	m.TransformsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastream_transforms_total",
			Help: "Total number of envelope transforms applied",
		},
		[]string{"kind", "algorithm", "direction"},
	)

	m.PacketBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "metastream_packet_bytes",
			Help: "Size of the last packet read or written",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "metastream_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// TrackUptime updates the uptime gauge until ctx is done
func (m *Metrics) TrackUptime(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordOperation records a data source operation
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransform counts one compression or encryption step
func (m *Metrics) RecordTransform(kind, algorithm, direction string) {
	if m == nil {
		return
	}
	m.TransformsTotal.WithLabelValues(kind, algorithm, direction).Inc()
}

// AddRecords updates record traffic counters
func (m *Metrics) AddRecords(loaded, saved, removed int) {
	if m == nil {
		return
	}
	m.RecordsLoadedTotal.Add(float64(loaded))
	m.RecordsSavedTotal.Add(float64(saved))
	m.RecordsRemovedTotal.Add(float64(removed))
}

// SetPacketSize records the size of the last packet
func (m *Metrics) SetPacketSize(n int) {
	if m == nil {
		return
	}
	m.PacketBytes.Set(float64(n))
}
