// Observability middleware and HTTP server for metrics, profiling and records
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/internal/metrics"
	"github.com/nainya/metastream/pkg/metadata"
)

// GrpcMetricsInterceptor creates a gRPC interceptor for metrics and logging
func GrpcMetricsInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrNop(log)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		duration := time.Since(start)
		m.RecordOperation("grpc:"+info.FullMethod, err, duration)
		log.LogOperation(info.FullMethod, duration, 0, err)
		return resp, err
	}
}

// ObservabilityServer provides HTTP endpoints for metrics, profiling and the loaded records
type ObservabilityServer struct {
	server *http.Server
	source *Server
	log    *logger.Logger
}

// NewObservabilityServer creates a new HTTP server for observability
func NewObservabilityServer(addr string, source *Server, gatherer prometheus.Gatherer, log *logger.Logger) *ObservabilityServer {
	o := &ObservabilityServer{source: source, log: logger.OrNop(log)}
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
	})
	mux.HandleFunc("/ready", o.handleReady)
	mux.HandleFunc("/records", o.handleRecords)
	mux.HandleFunc("/reload", o.handleReload)

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))

	o.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return o
}

// readyView summarizes the current snapshot
type readyView struct {
	Status      string    `json:"status"`
	File        string    `json:"file,omitempty"`
	Records     int       `json:"records"`
	Schemas     []string  `json:"schemas,omitempty"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
	Compressors []string  `json:"compressors,omitempty"`
	Encryptions []string  `json:"encryptions,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	ChecksumOK  bool      `json:"checksum_ok"`
}

func (o *ObservabilityServer) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := o.source.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, readyView{Status: "loading"})
		return
	}
	v := readyView{
		Status:      "ready",
		File:        snap.Path,
		Records:     snap.Stream.Len(),
		LoadedAt:    snap.LoadedAt,
		Compressors: snap.State.Compressors,
		Encryptions: snap.State.Encryptions,
		Checksum:    snap.Checksum,
		ChecksumOK:  snap.Stored == "" || snap.Stored == snap.Checksum,
	}
	for _, sc := range snap.Stream.Schemas() {
		v.Schemas = append(v.Schemas, sc.Name)
	}
	writeJSON(w, http.StatusOK, v)
}

type referenceView struct {
	Name string      `json:"name,omitempty"`
	ID   metadata.ID `json:"id"`
}

type recordView struct {
	ID         metadata.ID     `json:"id"`
	Schema     string          `json:"schema"`
	Name       string          `json:"name"`
	FrameIndex *int64          `json:"frame_index,omitempty"`
	NumFrames  *int64          `json:"num_frames,omitempty"`
	Timestamp  *int64          `json:"timestamp,omitempty"`
	Duration   *int64          `json:"duration,omitempty"`
	Fields     map[string]any  `json:"fields,omitempty"`
	References []referenceView `json:"references,omitempty"`
}

func newRecordView(md *metadata.Metadata) recordView {
	v := recordView{ID: md.ID(), Schema: md.SchemaName(), Name: md.Name()}
	defined := func(val, undefined int64) *int64 {
		if val == undefined {
			return nil
		}
		return &val
	}
	v.FrameIndex = defined(md.FrameIndex(), metadata.UndefinedFrameIndex)
	v.NumFrames = defined(md.NumFrames(), metadata.UndefinedFrameCount)
	v.Timestamp = defined(md.Timestamp(), metadata.UndefinedTimestamp)
	v.Duration = defined(md.Duration(), metadata.UndefinedDuration)

	if fields := md.Fields(); len(fields) > 0 {
		v.Fields = make(map[string]any, len(fields))
		for _, f := range fields {
			v.Fields[f.Name] = f.Value.Interface()
		}
	}
	for _, ref := range md.References() {
		v.References = append(v.References, referenceView{Name: ref.Name, ID: ref.TargetID})
	}
	return v
}

// handleRecords lists records, optionally narrowed by schema, name and a filter expression
func (o *ObservabilityServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	snap := o.source.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot loaded"})
		return
	}

	q := r.URL.Query()
	set := snap.Stream.All()
	if sc := q.Get("schema"); sc != "" {
		if name := q.Get("name"); name != "" {
			set = set.ByName(sc, name)
		} else {
			set = set.BySchema(sc)
		}
	}
	if code := q.Get("filter"); code != "" {
		filtered, err := set.Filter(code)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		set = filtered
	}

	out := make([]recordView, 0, len(set))
	for _, md := range set {
		out = append(out, newRecordView(md))
	}
	writeJSON(w, http.StatusOK, out)
}

func (o *ObservabilityServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use POST"})
		return
	}
	if err := o.source.Reload(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	o.handleReady(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start starts the observability HTTP server
func (o *ObservabilityServer) Start() error {
	o.log.Info().
		Str("addr", o.server.Addr).
		Str("metrics", "/metrics").
		Str("records", "/records").
		Str("pprof", "/debug/pprof/").
		Msg("observability endpoints available")

	if err := o.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "observability server failed")
	}
	return nil
}

// Shutdown gracefully shuts down the observability server
func (o *ObservabilityServer) Shutdown(ctx context.Context) error {
	o.log.Info().Msg("shutting down observability server")
	return o.server.Shutdown(ctx)
}
