package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastream/internal/config"
	"github.com/nainya/metastream/pkg/datasource"
	"github.com/nainya/metastream/pkg/envelope"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/variant"
)

func init() { color.NoColor = true }

func noEnv(string) string { return "" }

func run(t *testing.T, getenv func(string) string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(getenv)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// writeRecords appends a packet with two labelled faces to path
func writeRecords(t *testing.T, path string) {
	t.Helper()
	sc := schema.New("faces", "tests").
		MustAdd(schema.NewDescriptor("face",
			schema.FieldDesc{Name: "label", Type: variant.TypeString},
		))
	s := metadata.NewStream()
	require.NoError(t, s.AddSchema(sc))
	for _, label := range []string{"alice", "bob"} {
		md := metadata.New(sc.Find("face"))
		require.NoError(t, md.SetFieldValue("label", variant.String(label)))
		_, err := s.Add(md)
		require.NoError(t, err)
	}

	ds := datasource.New()
	require.NoError(t, ds.Open(path, datasource.Update))
	defer ds.Close()
	require.NoError(t, ds.Save(s))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metastream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestPackAndDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.xmp")
	writeRecords(t, path)

	out, err := run(t, noEnv, "pack", "--compressor", "zstd", path)
	require.NoError(t, err)
	assert.Contains(t, out, "packed")
	assert.Contains(t, out, "2 records")

	out, err = run(t, noEnv, "dump", path)
	require.NoError(t, err)
	assert.Contains(t, out, "compressed(zstd)")
	assert.Contains(t, out, `schema faces (tests): face`)
	assert.Contains(t, out, `faces/face label="alice"`)
	assert.Contains(t, out, `faces/face label="bob"`)

	out, err = run(t, noEnv, "dump", "--filter", `fields.label == "bob"`, path)
	require.NoError(t, err)
	assert.NotContains(t, out, "alice")
	assert.Contains(t, out, "bob")

	out, err = run(t, noEnv, "dump", "--raw", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rawRecord")
	assert.Equal(t, 2, strings.Count(out, "Schema: (string) (len=5) \"faces\""))
}

func TestPassphraseEncryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.xmp")
	writeRecords(t, path)
	cfg := writeConfig(t, `
encryption:
  mode: passphrase
  hint: vault
  kdf_time: 1
  kdf_memory_kib: 1024
  kdf_threads: 1
`)
	env := func(name string) string {
		if name == config.PassphraseEnv {
			return "s3cret"
		}
		return ""
	}

	_, err := run(t, env, "--config", cfg, "pack", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("alice")), "label stored in clear text")

	out, err := run(t, env, "--config", cfg, "dump", path)
	require.NoError(t, err)
	assert.Contains(t, out, "encrypted(vault)")
	assert.Contains(t, out, "alice")

	_, err = run(t, noEnv, "dump", path)
	assert.ErrorIs(t, err, envelope.ErrNoDecryptor)

	// config without the passphrase in the environment is rejected up front
	_, err = run(t, noEnv, "--config", cfg, "dump", path)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestChecksumVerify(t *testing.T) {
	host := []byte("\x00\x00\x00\x18ftypmp42 host video bytes")
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, host, 0o644))

	_, err := run(t, noEnv, "pack", "--store-checksum", path)
	require.NoError(t, err)

	sum := sha256.Sum256(host)
	out, err := run(t, noEnv, "checksum", "--verify", path)
	require.NoError(t, err)
	assert.Contains(t, out, hex.EncodeToString(sum[:]))
	assert.Contains(t, out, "OK")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, host), "host bytes moved")
	data[4] = 'F'
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err = run(t, noEnv, "checksum", "--verify", path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Contains(t, out, "MISMATCH")
}

func TestInvalidFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.xmp")
	writeRecords(t, path)

	_, err := run(t, noEnv, "pack", "--compressor", "lz4", path)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = run(t, noEnv, "dump")
	assert.Error(t, err)

	_, err = run(t, noEnv, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "dump", path)
	assert.Error(t, err)
}
