package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nainya/metastream/internal/metrics"
	"github.com/nainya/metastream/internal/server"
	"github.com/nainya/metastream/pkg/datasource"
	"github.com/nainya/metastream/pkg/envelope"
	"github.com/nainya/metastream/pkg/metadata"
)

// ErrChecksumMismatch is returned by checksum --verify
var ErrChecksumMismatch = errors.New("media checksum mismatch")

func (a *app) dumpCmd() *cobra.Command {
	var raw bool
	var schemaName, filter string
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the records stored in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, done, err := a.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, bold("file:"), args[0])
			printState(out, ds.State())

			stream := metadata.NewStream()
			if err := ds.Load(stream); err != nil {
				return err
			}
			set := stream.All()
			if schemaName != "" {
				set = set.BySchema(schemaName)
			}
			if filter != "" {
				if set, err = set.Filter(filter); err != nil {
					return err
				}
			}

			if raw {
				cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
				for _, md := range set {
					cfg.Fdump(out, newRawRecord(md))
				}
				return nil
			}
			for _, sc := range stream.Schemas() {
				var names []string
				for _, d := range sc.All() {
					names = append(names, d.MetadataName)
				}
				fmt.Fprintf(out, "%s %s (%s): %s\n", bold("schema"), sc.Name, sc.Author, strings.Join(names, ", "))
			}
			for _, md := range set {
				fmt.Fprintln(out, formatRecord(md))
			}
			for _, seg := range stream.VideoSegments() {
				fmt.Fprintf(out, "%s %q %gfps time=%d duration=%d %dx%d\n",
					bold("segment"), seg.Title, seg.FPS, seg.Time, seg.Duration, seg.Width, seg.Height)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "dump record structures instead of one line per record")
	cmd.Flags().StringVar(&schemaName, "schema", "", "only records of this schema")
	cmd.Flags().StringVar(&filter, "filter", "", `boolean expression over id, schema, name, frameIndex, timestamp and fields, e.g. fields.label == "bob"`)
	return cmd
}

func printState(out io.Writer, st envelope.State) {
	var steps []string
	for _, enc := range st.Encryptions {
		steps = append(steps, fmt.Sprintf("encrypted(%s)", enc))
	}
	for _, c := range st.Compressors {
		steps = append(steps, fmt.Sprintf("compressed(%s)", c))
	}
	if len(steps) == 0 {
		steps = append(steps, "none")
	}
	fmt.Fprintln(out, bold("transforms:"), strings.Join(steps, " "))
	if st.Inert {
		fmt.Fprintln(out, yellow("NOTE:"), fmt.Sprintf("%s marker %q left in place", st.Pending, st.PendingAlgorithm))
	}
}

func formatRecord(md *metadata.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s/%s", md.ID(), md.SchemaName(), md.Name())
	if md.FrameIndex() != metadata.UndefinedFrameIndex {
		fmt.Fprintf(&b, " frame=%d+%d", md.FrameIndex(), md.NumFrames())
	}
	if md.Timestamp() != metadata.UndefinedTimestamp {
		fmt.Fprintf(&b, " time=%d+%d", md.Timestamp(), md.Duration())
	}
	for _, f := range md.Fields() {
		if f.Name == "" {
			fmt.Fprintf(&b, " %s", f.Value)
			continue
		}
		fmt.Fprintf(&b, " %s=%q", f.Name, f.Value.String())
	}
	for _, ref := range md.References() {
		fmt.Fprintf(&b, " -> %s:#%d", ref.Name, ref.TargetID)
	}
	return b.String()
}

// rawRecord is the shape dumped by --raw; it drops the owning stream
type rawRecord struct {
	ID         metadata.ID
	Schema     string
	Name       string
	FrameIndex int64
	NumFrames  int64
	Timestamp  int64
	Duration   int64
	Fields     map[string]any
	References []metadata.Reference
}

func newRawRecord(md *metadata.Metadata) rawRecord {
	r := rawRecord{
		ID:         md.ID(),
		Schema:     md.SchemaName(),
		Name:       md.Name(),
		FrameIndex: md.FrameIndex(),
		NumFrames:  md.NumFrames(),
		Timestamp:  md.Timestamp(),
		Duration:   md.Duration(),
		Fields:     map[string]any{},
		References: md.References(),
	}
	for _, f := range md.Fields() {
		r.Fields[f.Name] = f.Value.Interface()
	}
	return r
}

func (a *app) packCmd() *cobra.Command {
	var compressor string
	var storeChecksum bool
	cmd := &cobra.Command{
		Use:   "pack <file>",
		Short: "Rewrite a file with the configured compressor and encryption",
		Long: `Loads every record and writes the packet back through the configured transforms.
The file is created when missing. Encryption follows the configuration file and
takes the passphrase from METASTREAM_PASSPHRASE.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("compressor") {
				a.cfg.Compressor = compressor
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			ds, done, err := a.open(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			defer done()

			stream := metadata.NewStream()
			if err := ds.Load(stream); err != nil {
				return err
			}
			if storeChecksum {
				sum, err := ds.ComputeChecksum()
				if err != nil {
					return err
				}
				if err := ds.SaveChecksum(sum); err != nil {
					return err
				}
			}
			if a.cfg.Encryption.Mode != "" {
				hint := a.cfg.Encryption.Hint
				if hint == "" {
					hint = a.cfg.Encryption.KMSKey
				}
				if err := ds.SaveHint(hint); err != nil {
					return err
				}
			}
			if err := ds.Save(stream); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), green("packed"), args[0],
				fmt.Sprintf("(%d records, compressor=%q, encryption=%q)", stream.Len(), a.cfg.Compressor, a.cfg.Encryption.Mode))
			return nil
		},
	}
	cmd.Flags().StringVar(&compressor, "compressor", "", "compressor id (zlib, zstd, s2); empty disables compression")
	cmd.Flags().BoolVar(&storeChecksum, "store-checksum", false, "record the media checksum of the host bytes")
	return cmd
}

func (a *app) checksumCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "checksum <file>",
		Short: "Print the SHA-256 of the host bytes outside the metadata packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, done, err := a.open(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			defer done()

			sum, err := ds.ComputeChecksum()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sum)
			if !verify {
				return nil
			}
			stored, err := ds.LoadChecksum()
			if err != nil {
				return err
			}
			if stored != sum {
				fmt.Fprintln(out, red("MISMATCH"), "stored", stored)
				return errors.Wrapf(ErrChecksumMismatch, "%s", args[0])
			}
			fmt.Fprintln(out, green("OK"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "compare with the checksum stored in the file")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <file>",
		Short: "Serve the records of a file over HTTP with a gRPC health endpoint",
		Long:  "Serves /records, /ready, /metrics and pprof over HTTP and grpc.health.v1 over gRPC. SIGHUP reloads the file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc, release, err := a.encryptor(ctx)
			if err != nil {
				return err
			}
			defer release()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.NewMetrics(reg)

			log := a.log.WithFields(map[string]interface{}{"command": "serve"})
			opts := []datasource.Option{datasource.WithLogger(log), datasource.WithMetrics(m)}
			if enc != nil {
				opts = append(opts, datasource.WithEncryptor(enc))
			}
			srv, err := server.New(server.Config{
				HTTPAddr: a.cfg.Server.HTTPAddr,
				GRPCAddr: a.cfg.Server.GRPCAddr,
				Loader:   server.FileLoader(args[0], a.cfg.OpenMode(false), opts...),
				Gatherer: reg,
				Metrics:  m,
				Logger:   log,
			})
			if err != nil {
				return err
			}
			if err := srv.Reload(); err != nil {
				return err
			}

			go reloadOnHangup(ctx, srv)
			return srv.Serve(ctx)
		},
	}
	return cmd
}

func reloadOnHangup(ctx context.Context, srv *server.Server) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			// failures are logged and reported through health
			_ = srv.Reload()
		}
	}
}
