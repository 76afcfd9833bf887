// Package server serves a read-only view of one metadata file over HTTP and gRPC
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/internal/metrics"
	"github.com/nainya/metastream/pkg/datasource"
	"github.com/nainya/metastream/pkg/envelope"
	"github.com/nainya/metastream/pkg/metadata"
)

// ServiceName is reported by the gRPC health service
const ServiceName = "metastream"

// Snapshot is one load of the served file. It is never modified after creation.
type Snapshot struct {
	Path     string
	LoadedAt time.Time
	Stream   *metadata.Stream
	State    envelope.State
	Checksum string
	Stored   string // checksum recorded in the document
}

// Loader produces a fresh snapshot
type Loader func() (*Snapshot, error)

// FileLoader opens path read-only with opts and loads every record
func FileLoader(path string, mode datasource.Mode, opts ...datasource.Option) Loader {
	return func() (*Snapshot, error) {
		ds := datasource.New(opts...)
		if err := ds.Open(path, mode&^datasource.Update); err != nil {
			return nil, err
		}
		defer ds.Close()

		stream := metadata.NewStream()
		if err := ds.Load(stream); err != nil {
			return nil, err
		}
		sum, err := ds.ComputeChecksum()
		if err != nil {
			return nil, err
		}
		stored, err := ds.LoadChecksum()
		if err != nil {
			return nil, err
		}
		return &Snapshot{
			Path:     path,
			LoadedAt: time.Now(),
			Stream:   stream,
			State:    ds.State(),
			Checksum: sum,
			Stored:   stored,
		}, nil
	}
}

// Config holds server settings
type Config struct {
	HTTPAddr string
	GRPCAddr string
	Loader   Loader
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// Server owns the HTTP and gRPC listeners and the current snapshot
type Server struct {
	cfg      Config
	log      *logger.Logger
	current  atomic.Pointer[Snapshot]
	health   *health.Server
	grpc     *grpc.Server
	observer *ObservabilityServer
}

// New creates a server; call Reload before serving
func New(cfg Config) (*Server, error) {
	if cfg.Loader == nil {
		return nil, errors.New("server: no loader configured")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		log:    logger.OrNop(cfg.Logger).Component("server"),
		health: health.NewServer(),
	}

	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(GrpcMetricsInterceptor(cfg.Metrics, s.log)))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.observer = NewObservabilityServer(cfg.HTTPAddr, s, cfg.Gatherer, s.log)
	return s, nil
}

// Snapshot returns the current snapshot, nil before the first successful load
func (s *Server) Snapshot() *Snapshot { return s.current.Load() }

// Reload replaces the snapshot. On failure the previous snapshot stays and
// the service is reported as not serving.
func (s *Server) Reload() (err error) {
	start := time.Now()
	defer func() {
		s.cfg.Metrics.RecordOperation("reload", err, time.Since(start))
	}()

	snap, err := s.cfg.Loader()
	if err != nil {
		s.setServing(false)
		s.log.Error().Err(err).Msg("reload failed")
		return err
	}
	s.current.Store(snap)
	s.setServing(true)
	s.cfg.Metrics.AddRecords(snap.Stream.Len(), 0, 0)
	s.log.Info().Int("records", snap.Stream.Len()).Str("file", snap.Path).Msg("snapshot loaded")
	return nil
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve runs both listeners until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.GRPCAddr)
	}

	path := ""
	if snap := s.Snapshot(); snap != nil {
		path = snap.Path
	}
	s.log.LogServerStart(s.cfg.HTTPAddr, s.cfg.GRPCAddr, path)
	go s.cfg.Metrics.TrackUptime(ctx)

	errc := make(chan error, 2)
	go func() { errc <- s.grpc.Serve(lis) }()
	go func() { errc <- s.observer.Start() }()
	s.log.LogServerReady(s.cfg.HTTPAddr, s.cfg.GRPCAddr)

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	s.log.LogServerShutdown()
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if herr := s.observer.Shutdown(shutdownCtx); herr != nil && err == nil {
		err = herr
	}
	s.grpc.GracefulStop()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		err = nil
	}
	return err
}

// GRPCServer exposes the gRPC server for in-process listeners
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

// Handler exposes the HTTP handler
func (s *Server) Handler() http.Handler { return s.observer.server.Handler }
