// ABOUTME: metastream command line: inspect, repack and serve metadata files
// ABOUTME: Configuration comes from an optional YAML/TOML file plus the environment

package main

import (
	"context"
	"fmt"
	"os"

	kms "cloud.google.com/go/kms/apiv1"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nainya/metastream/internal/config"
	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/pkg/crypt"
	"github.com/nainya/metastream/pkg/datasource"
	"github.com/nainya/metastream/pkg/envelope"
)

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// app carries state shared by every command of one invocation
type app struct {
	configPath string
	logLevel   string
	getenv     func(string) string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}
	root := &cobra.Command{
		Use:   "metastream [subcommand]",
		Short: "Inspect and rewrite schema-typed metadata packets",
		// Silence errors because we will print the error ourselves in main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML or TOML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(a.dumpCmd(), a.packCmd(), a.checksumCmd(), a.serveCmd())
	return root
}

func (a *app) setup() error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(a.getenv)
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	logger.InitGlobalLogger(cfg.Logger())
	a.log = logger.GetGlobalLogger()
	return nil
}

// encryptor builds the configured encryptor. The returned func releases
// any client it opened.
func (a *app) encryptor(ctx context.Context) (envelope.Encryptor, func(), error) {
	enc := a.cfg.Encryption
	switch enc.Mode {
	case config.EncryptionPassphrase:
		p, err := crypt.NewPassphraseWithKDF(enc.Passphrase, enc.Hint, a.cfg.KDF())
		return p, func() {}, err
	case config.EncryptionKMS:
		client, err := kms.NewKeyManagementClient(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating KMS client")
		}
		k, err := crypt.NewKMS(ctx, client, enc.KMSKey, enc.Hint)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return k, func() { client.Close() }, nil
	}
	return nil, func() {}, nil
}

// open opens path with the configured transforms
func (a *app) open(ctx context.Context, path string, update bool) (*datasource.DataSource, func(), error) {
	enc, release, err := a.encryptor(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := []datasource.Option{
		datasource.WithCompressor(a.cfg.Compressor),
		datasource.WithLogger(a.log),
	}
	if enc != nil {
		opts = append(opts, datasource.WithEncryptor(enc))
	}
	ds := datasource.New(opts...)
	if err := ds.Open(path, a.cfg.OpenMode(update)); err != nil {
		release()
		return nil, nil, err
	}
	return ds, func() {
		ds.Close()
		release()
	}, nil
}

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}
