package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("open", nil, time.Millisecond)
	m.RecordTransform("compress", "zlib", "wrap")
	m.AddRecords(1, 2, 3)
	m.SetPacketSize(10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.TrackUptime(ctx)
}

func TestRecordOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("push", nil, 2*time.Millisecond)
	m.RecordOperation("push", nil, time.Millisecond)
	m.RecordOperation("push", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("push", "ok")); got != 2 {
		t.Errorf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("push", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.OperationDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestRecordCountersAndGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddRecords(5, 0, 0)
	m.AddRecords(0, 3, 1)
	m.RecordTransform("encrypt", "vault", "unwrap")
	m.SetPacketSize(4096)

	checks := map[string]struct {
		got, want float64
	}{
		"loaded":    {testutil.ToFloat64(m.RecordsLoadedTotal), 5},
		"saved":     {testutil.ToFloat64(m.RecordsSavedTotal), 3},
		"removed":   {testutil.ToFloat64(m.RecordsRemovedTotal), 1},
		"transform": {testutil.ToFloat64(m.TransformsTotal.WithLabelValues("encrypt", "vault", "unwrap")), 1},
		"packet":    {testutil.ToFloat64(m.PacketBytes), 4096},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", name, c.got, c.want)
		}
	}
}

func TestSeparateRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.AddRecords(1, 0, 0)
	if got := testutil.ToFloat64(b.RecordsLoadedTotal); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
