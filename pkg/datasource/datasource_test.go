package datasource

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/metastream/pkg/compress"
	"github.com/nainya/metastream/pkg/crypt"
	"github.com/nainya/metastream/pkg/envelope"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/variant"
)

func faceSchema() *schema.Schema {
	return schema.New("faces", "tests").
		MustAdd(schema.NewDescriptor("face",
			schema.FieldDesc{Name: "label", Type: variant.TypeString},
			schema.FieldDesc{Name: "confidence", Type: variant.TypeReal, Optional: true},
		)).
		MustAdd(schema.NewDescriptor("track",
			schema.FieldDesc{Name: "length", Type: variant.TypeInteger},
		))
}

// buildStream creates two faces referencing each other and a track
func buildStream(t *testing.T) *metadata.Stream {
	t.Helper()
	sc := faceSchema()
	s := metadata.NewStream()
	if err := s.AddSchema(sc); err != nil {
		t.Fatalf("AddSchema failed: %v", err)
	}

	add := func(desc string, set func(md *metadata.Metadata)) *metadata.Metadata {
		md := metadata.New(sc.Find(desc))
		set(md)
		if _, err := s.Add(md); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		return md
	}
	alice := add("face", func(md *metadata.Metadata) {
		md.SetFieldValue("label", variant.String("alice"))
		md.SetFieldValue("confidence", variant.Real(0.93))
		md.SetFrameIndex(10, 5)
	})
	bob := add("face", func(md *metadata.Metadata) {
		md.SetFieldValue("label", variant.String("bob"))
		md.SetTimestamp(1700000000, 40)
	})
	add("track", func(md *metadata.Metadata) {
		md.SetFieldValue("length", variant.Integer(120))
	})
	if err := alice.AddReference(bob, "next"); err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	if err := bob.AddReference(alice, "prev"); err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	if err := s.AddVideoSegment(metadata.VideoSegment{Title: "main", FPS: 29.97, Time: 0, Duration: 60000, Width: 1920, Height: 1080}); err != nil {
		t.Fatalf("AddVideoSegment failed: %v", err)
	}
	return s
}

func testPassphrase(t *testing.T) *crypt.Passphrase {
	t.Helper()
	p, err := crypt.NewPassphraseWithKDF("s3cret", "ops vault", crypt.KDFParams{Time: 1, Memory: 1024, Threads: 1})
	if err != nil {
		t.Fatalf("NewPassphraseWithKDF failed: %v", err)
	}
	return p
}

func openDS(t *testing.T, path string, mode Mode, opts ...Option) *DataSource {
	t.Helper()
	ds := New(opts...)
	if err := ds.Open(path, mode); err != nil {
		t.Fatalf("Open(%s) failed: %v", path, err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func loadAll(t *testing.T, ds *DataSource) *metadata.Stream {
	t.Helper()
	s := metadata.NewStream()
	if err := ds.Load(s); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func assertSameRecords(t *testing.T, want, got *metadata.Stream) {
	t.Helper()
	if want.Len() != got.Len() {
		t.Fatalf("record count: got %d, want %d", got.Len(), want.Len())
	}
	for _, md := range want.All() {
		if !md.Equal(got.Get(md.ID())) {
			t.Errorf("record %d differs after reload", md.ID())
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts func(t *testing.T) []Option
	}{
		{"plain", func(*testing.T) []Option { return nil }},
		{"zlib", func(*testing.T) []Option { return []Option{WithCompressor(compress.Zlib)} }},
		{"zstd+passphrase", func(t *testing.T) []Option {
			return []Option{WithCompressor(compress.Zstd), WithEncryptor(testPassphrase(t))}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "clip.mstr")
			want := buildStream(t)

			ds := openDS(t, path, Update, tc.opts(t)...)
			if err := ds.Save(want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			reader := openDS(t, path, ReadOnly, tc.opts(t)...)
			got := loadAll(t, reader)
			assertSameRecords(t, want, got)

			if got.NextID() != want.NextID() {
				t.Errorf("next id: got %d, want %d", got.NextID(), want.NextID())
			}
			if diff := cmp.Diff(want.VideoSegments(), got.VideoSegments()); diff != "" {
				t.Errorf("segments mismatch (-want +got):\n%s", diff)
			}
			if got.Schema("faces") == nil || got.Schema("faces").Find("track") == nil {
				t.Error("schema definition was not restored")
			}
		})
	}
}

func TestTransformsAreApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	enc := testPassphrase(t)
	ds := openDS(t, path, Update, WithCompressor(compress.S2), WithEncryptor(enc))
	if err := ds.Save(buildStream(t)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	state := ds.State()
	if diff := cmp.Diff(envelope.State{Compressors: []string{compress.S2}, Encryptions: []string{"ops vault"}}, state); diff != "" {
		t.Errorf("state after reopen (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"alice", "faces", "video-segments"} {
		if bytes.Contains(raw, []byte(plain)) {
			t.Errorf("%q readable in the encrypted file", plain)
		}
	}
}

func TestEncryptedWithoutEncryptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	ds := openDS(t, path, Update, WithEncryptor(testPassphrase(t)))
	if err := ds.Save(buildStream(t)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	err := New().Open(path, ReadOnly)
	if !errors.Is(err, envelope.ErrNoDecryptor) {
		t.Fatalf("Open: got %v, want ErrNoDecryptor", err)
	}

	inert := openDS(t, path, Update|IgnoreUnknownEncryptor)
	if !inert.State().Inert {
		t.Fatal("expected an inert document")
	}
	if err := inert.Load(metadata.NewStream()); !errors.Is(err, ErrInertDocument) {
		t.Errorf("Load: got %v, want ErrInertDocument", err)
	}
	if err := inert.SaveNextID(5); !errors.Is(err, ErrInertDocument) {
		t.Errorf("SaveNextID: got %v, want ErrInertDocument", err)
	}
	if err := inert.PushChanges(); !errors.Is(err, ErrInertDocument) {
		t.Errorf("PushChanges: got %v, want ErrInertDocument", err)
	}
}

// rot13 is a compressor missing from the default registry
type rot13 struct{}

func (rot13) ID() string { return "rot13" }
func (rot13) Compress(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c + 13
	}
	return out, nil
}
func (rot13) Decompress(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c - 13
	}
	return out, nil
}

func TestUnknownCompressorPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	reg := compress.NewRegistry()
	reg.Register("rot13", func() (envelope.Compressor, error) { return rot13{}, nil })

	ds := openDS(t, path, Update, WithRegistry(reg), WithCompressor("rot13"))
	want := buildStream(t)
	if err := ds.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := New().Open(path, ReadOnly); !errors.Is(err, envelope.ErrUnknownCompressor) {
		t.Fatalf("Open: got %v, want ErrUnknownCompressor", err)
	}
	inert := openDS(t, path, ReadOnly|IgnoreUnknownCompressor)
	if st := inert.State(); !st.Inert || st.PendingAlgorithm != "rot13" {
		t.Errorf("state: %+v", st)
	}

	assertSameRecords(t, want, loadAll(t, openDS(t, path, ReadOnly, WithRegistry(reg))))
}

func TestSetCompressor(t *testing.T) {
	ds := New()
	if err := ds.SetCompressor("lzma"); !errors.Is(err, envelope.ErrUnknownAlgorithm) {
		t.Errorf("got %v, want ErrUnknownAlgorithm", err)
	}
	if err := ds.SetCompressor(compress.Zstd); err != nil {
		t.Errorf("SetCompressor failed: %v", err)
	}
	if err := ds.SetCompressor(""); err != nil {
		t.Errorf("clearing the compressor failed: %v", err)
	}
}

func TestModeChecks(t *testing.T) {
	ds := New()
	if _, err := ds.LoadNextID(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("LoadNextID before Open: got %v", err)
	}
	if err := ds.PushChanges(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("PushChanges before Open: got %v", err)
	}

	path := filepath.Join(t.TempDir(), "clip.mstr")
	if err := New().Open(path, ReadOnly); err == nil {
		t.Fatal("read-only open of a missing file should fail")
	}

	w := openDS(t, path, Update)
	if err := w.Open(path, Update); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open: got %v, want ErrAlreadyOpen", err)
	}
	if err := w.PushChanges(); err != nil {
		t.Fatalf("PushChanges failed: %v", err)
	}

	r := openDS(t, path, ReadOnly)
	if err := r.SaveNextID(3); !errors.Is(err, ErrReadOnly) {
		t.Errorf("SaveNextID: got %v, want ErrReadOnly", err)
	}
	if err := r.Save(metadata.NewStream()); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Save: got %v, want ErrReadOnly", err)
	}
}

func TestRemovePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	s := buildStream(t)
	ds := openDS(t, path, Update)
	if err := ds.Save(s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	track := s.All().ByName("faces", "track")[0]
	s.Remove(track.ID())
	if err := ds.Save(s); err != nil {
		t.Fatalf("Save after remove failed: %v", err)
	}

	got := loadAll(t, openDS(t, path, ReadOnly))
	if got.Get(track.ID()) != nil {
		t.Error("removed record is still stored")
	}
	assertSameRecords(t, s, got)
	if got.NextID() != s.NextID() {
		t.Errorf("next id moved to %d", got.NextID())
	}
}

func TestRemoveReferencedRecordFailsSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	s := buildStream(t)
	ds := openDS(t, path, Update)

	faces := s.All().ByName("faces", "face")
	s.Remove(faces[1].ID())
	if err := ds.Save(s); !errors.Is(err, metadata.ErrDanglingReference) {
		t.Errorf("got %v, want ErrDanglingReference", err)
	}
}

func TestRemoveSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	ds := openDS(t, path, Update)
	if err := ds.Save(buildStream(t)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := ds.RemoveSchema("faces"); err != nil {
		t.Fatalf("RemoveSchema failed: %v", err)
	}
	if ds.Has("faces") {
		t.Error("records of the removed schema remain")
	}
	if defs, _ := ds.LoadSchemas(); len(defs) != 0 {
		t.Errorf("definitions left: %v", defs)
	}
	if err := ds.RemoveSchema("faces"); err == nil {
		t.Error("removing a missing schema should fail")
	}
}

func TestStreamSchemaRemovalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	ds := openDS(t, path, Update)
	if err := ds.Save(buildStream(t)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s := loadAll(t, ds)
	if err := s.RemoveSchema("faces"); err != nil {
		t.Fatalf("RemoveSchema failed: %v", err)
	}
	if err := ds.Save(s); err != nil {
		t.Fatalf("Save after schema removal failed: %v", err)
	}
	if len(s.RemovedSchemas()) != 0 || len(s.RemovedIDs()) != 0 {
		t.Error("Save did not clear the removal journals")
	}

	got := loadAll(t, openDS(t, path, ReadOnly))
	if got.Schema("faces") != nil {
		t.Error("removed schema came back on load")
	}
	if got.Len() != 0 {
		t.Errorf("records of the removed schema remain: %d", got.Len())
	}
	if len(got.VideoSegments()) != 1 {
		t.Errorf("segments should be untouched, got %d", len(got.VideoSegments()))
	}
}

func TestLoadTwiceKeepsSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	want := buildStream(t)
	ds := openDS(t, path, Update)
	if err := ds.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reader := openDS(t, path, ReadOnly)
	got := loadAll(t, reader)
	if err := reader.Load(got); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if diff := cmp.Diff(want.VideoSegments(), got.VideoSegments()); diff != "" {
		t.Errorf("segments mismatch after loading twice (-want +got):\n%s", diff)
	}
	assertSameRecords(t, want, got)
}

func TestSideChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	host := []byte("\x00\x00\x00\x18ftypmp42 fake media payload")
	if err := os.WriteFile(path, host, 0644); err != nil {
		t.Fatal(err)
	}

	ds := openDS(t, path, Update)
	if id, err := ds.LoadNextID(); err != nil || id != 0 {
		t.Errorf("LoadNextID on a new document: %d, %v", id, err)
	}
	if sum, err := ds.LoadChecksum(); err != nil || sum != "" {
		t.Errorf("LoadChecksum on a new document: %q, %v", sum, err)
	}

	sum, err := ds.ComputeChecksum()
	if err != nil {
		t.Fatalf("ComputeChecksum failed: %v", err)
	}
	want := sha256.Sum256(host)
	if sum != hex.EncodeToString(want[:]) {
		t.Errorf("checksum: got %s", sum)
	}

	if err := ds.SaveChecksum(sum); err != nil {
		t.Fatal(err)
	}
	if err := ds.SaveHint("ops vault"); err != nil {
		t.Fatal(err)
	}
	if err := ds.SaveNextID(42); err != nil {
		t.Fatal(err)
	}
	if err := ds.PushChanges(); err != nil {
		t.Fatalf("PushChanges failed: %v", err)
	}
	first, _ := ds.Document().GetProperty(InstanceIDPath)
	if err := ds.PushChanges(); err != nil {
		t.Fatalf("second PushChanges failed: %v", err)
	}
	second, _ := ds.Document().GetProperty(InstanceIDPath)
	if first == "" || first == second {
		t.Errorf("instance id not refreshed: %q then %q", first, second)
	}

	r := openDS(t, path, ReadOnly)
	if got, _ := r.LoadChecksum(); got != sum {
		t.Errorf("stored checksum: got %q", got)
	}
	if got, _ := r.LoadHint(); got != "ops vault" {
		t.Errorf("stored hint: got %q", got)
	}
	if got, _ := r.LoadNextID(); got != 42 {
		t.Errorf("stored next id: got %d", got)
	}
	if again, _ := r.ComputeChecksum(); again != sum {
		t.Error("checksum changed after the packet was written")
	}
}

func TestVideoSegmentValidation(t *testing.T) {
	ds := openDS(t, filepath.Join(t.TempDir(), "clip.mstr"), Update)
	for _, seg := range []metadata.VideoSegment{
		{Title: "", FPS: 25},
		{Title: "x", FPS: 0},
		{Title: "x", FPS: 25, Time: -1},
	} {
		if err := ds.SaveVideoSegments([]metadata.VideoSegment{seg}); !errors.Is(err, ErrInvalidSegment) {
			t.Errorf("%+v: got %v, want ErrInvalidSegment", seg, err)
		}
	}

	segs := []metadata.VideoSegment{{Title: "a", FPS: 25, Time: 0}, {Title: "b", FPS: 50, Time: 1000, Duration: 10}}
	if err := ds.SaveVideoSegments(segs); err != nil {
		t.Fatal(err)
	}
	got, err := ds.LoadVideoSegments()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(segs, got); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}

	if err := ds.SaveVideoSegments(nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := ds.LoadVideoSegments(); len(got) != 0 {
		t.Errorf("segments left after clearing: %v", got)
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mstr")
	ds := openDS(t, path, Update)
	if err := ds.Save(buildStream(t)); err != nil {
		t.Fatal(err)
	}
	if err := ds.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := ds.PushChanges(); err != nil {
		t.Fatal(err)
	}
	got := loadAll(t, openDS(t, path, ReadOnly))
	if got.Len() != 0 || len(got.Schemas()) != 0 || len(got.VideoSegments()) != 0 {
		t.Errorf("document not cleared: %d records, %d schemas", got.Len(), len(got.Schemas()))
	}
}
