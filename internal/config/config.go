// ABOUTME: File configuration for the metastream CLI
// ABOUTME: YAML or TOML by extension; secrets come from the environment only

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/pkg/compress"
	"github.com/nainya/metastream/pkg/crypt"
	"github.com/nainya/metastream/pkg/datasource"
)

// Environment variables read by ApplyEnv
const (
	PassphraseEnv = "METASTREAM_PASSPHRASE"
	LogLevelEnv   = "METASTREAM_LOG_LEVEL"
)

// Encryption modes
const (
	EncryptionNone       = ""
	EncryptionPassphrase = "passphrase"
	EncryptionKMS        = "kms"
)

var (
	// ErrFormat is returned for config files that are neither YAML nor TOML
	ErrFormat = errors.New("config: unsupported file format")

	// ErrInvalid is returned by Validate
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the CLI configuration
type Config struct {
	Compressor string           `yaml:"compressor" toml:"compressor"`
	Encryption EncryptionConfig `yaml:"encryption" toml:"encryption"`
	Ignore     IgnoreConfig     `yaml:"ignore" toml:"ignore"`
	Log        LogConfig        `yaml:"log" toml:"log"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
}

// EncryptionConfig selects the encryptor
type EncryptionConfig struct {
	Mode   string `yaml:"mode" toml:"mode"`
	Hint   string `yaml:"hint" toml:"hint"`
	KMSKey string `yaml:"kms_key" toml:"kms_key"`

	// Argon2id cost; zero values fall back to crypt.DefaultKDF
	KDFTime    uint32 `yaml:"kdf_time" toml:"kdf_time"`
	KDFMemory  uint32 `yaml:"kdf_memory_kib" toml:"kdf_memory_kib"`
	KDFThreads uint8  `yaml:"kdf_threads" toml:"kdf_threads"`

	// Passphrase is never read from a file
	Passphrase string `yaml:"-" toml:"-"`
}

// IgnoreConfig leaves documents wrapped instead of failing
type IgnoreConfig struct {
	UnknownCompressor bool `yaml:"unknown_compressor" toml:"unknown_compressor"`
	UnknownEncryptor  bool `yaml:"unknown_encryptor" toml:"unknown_encryptor"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty"`
}

// ServerConfig configures the serve command
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// Default returns the configuration used without a file
func Default() *Config {
	return &Config{
		Compressor: compress.Default,
		Log:        LogConfig{Level: "info"},
		Server:     ServerConfig{HTTPAddr: ":9090", GRPCAddr: ":50051"},
	}
}

// Load reads path over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, errors.Wrapf(ErrFormat, "%q", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment through getenv
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(PassphraseEnv); v != "" {
		c.Encryption.Passphrase = v
	}
	if v := getenv(LogLevelEnv); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Compressor != "" && !compress.NewRegistry().Has(c.Compressor) {
		return errors.Wrapf(ErrInvalid, "unknown compressor %q", c.Compressor)
	}
	switch c.Encryption.Mode {
	case EncryptionNone:
	case EncryptionPassphrase:
		if c.Encryption.Passphrase == "" {
			return errors.Wrapf(ErrInvalid, "passphrase encryption needs %s", PassphraseEnv)
		}
	case EncryptionKMS:
		if c.Encryption.KMSKey == "" {
			return errors.Wrap(ErrInvalid, "kms encryption needs encryption.kms_key")
		}
	default:
		return errors.Wrapf(ErrInvalid, "unknown encryption mode %q", c.Encryption.Mode)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalid, "unknown log level %q", c.Log.Level)
	}
	return nil
}

// KDF returns the configured Argon2id cost
func (c *Config) KDF() crypt.KDFParams {
	kdf := crypt.DefaultKDF
	if c.Encryption.KDFTime > 0 {
		kdf.Time = c.Encryption.KDFTime
	}
	if c.Encryption.KDFMemory > 0 {
		kdf.Memory = c.Encryption.KDFMemory
	}
	if c.Encryption.KDFThreads > 0 {
		kdf.Threads = c.Encryption.KDFThreads
	}
	return kdf
}

// OpenMode returns the data source flags for a read-only or update open
func (c *Config) OpenMode(update bool) datasource.Mode {
	mode := datasource.ReadOnly
	if update {
		mode |= datasource.Update
	}
	if c.Ignore.UnknownCompressor {
		mode |= datasource.IgnoreUnknownCompressor
	}
	if c.Ignore.UnknownEncryptor {
		mode |= datasource.IgnoreUnknownEncryptor
	}
	return mode
}

// Logger returns the logger configuration
func (c *Config) Logger() logger.Config {
	return logger.Config{Level: c.Log.Level, Pretty: c.Log.Pretty}
}
