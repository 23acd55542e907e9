package cache

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-tiercache/logger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore[V any](t *testing.T, fs billy.Filesystem, opts ...Option) *FileStore[string, V] {
	t.Helper()
	opts = append([]Option{
		WithFilesystem(fs),
		WithBaseDir("/cache"),
		WithIndexDir("/support/tiercache"),
		WithLogger(logger.NewTestLogger()),
	}, opts...)
	s, err := NewFileStore[string, V]("test", opts...)
	require.NoError(t, err)
	return s
}

func readJournal(t *testing.T, fs billy.Filesystem, path string) []journalRecord[string] {
	t.Helper()
	buf, err := util.ReadFile(fs, path)
	require.NoError(t, err)
	var j journal
	require.NoError(t, json.Unmarshal(buf, &j))
	assert.Equal(t, checksum(j.Entries), j.Checksum)
	var records []journalRecord[string]
	require.NoError(t, json.Unmarshal(j.Entries, &records))
	return records
}

func fileCount(t *testing.T, fs billy.Filesystem, dir string) int {
	t.Helper()
	infos, err := fs.ReadDir(dir)
	require.NoError(t, err)
	return len(infos)
}

func TestFileStoreLayout(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)
	defer s.Close()

	assert.Equal(t, "/cache/test", s.Dir())
	assert.Equal(t, "/support/tiercache/test.json", s.IndexPath())

	// The index is written immediately on open.
	assert.Empty(t, readJournal(t, fs, s.IndexPath()))
}

func TestFileStoreSetValue(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)
	defer s.Close()

	_, ok := s.Value("foo")
	assert.False(t, ok)

	s.SetValue("foo", "bar", Attributes{})
	val, ok := s.Value("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
	assert.Equal(t, 1, fileCount(t, fs, s.Dir()))

	// Overwriting replaces the file rather than adding one.
	s.SetValue("foo", "baz", Attributes{})
	val, ok = s.Value("foo")
	assert.True(t, ok)
	assert.Equal(t, "baz", val)
	assert.Equal(t, 1, fileCount(t, fs, s.Dir()))

	s.RemoveValue("foo")
	_, ok = s.Value("foo")
	assert.False(t, ok)
	assert.Equal(t, 0, fileCount(t, fs, s.Dir()))
}

func TestFileStoreFilenamesAreNotKeys(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)
	defer s.Close()

	s.SetValue("../../etc/passwd", "nope", Attributes{})
	infos, err := fs.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.NotContains(t, infos[0].Name(), "passwd")

	val, ok := s.Value("../../etc/passwd")
	assert.True(t, ok)
	assert.Equal(t, "nope", val)
}

func TestFileStoreBytesStoredVerbatim(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[[]byte](t, fs)
	defer s.Close()

	s.SetValue("raw", []byte("hello"), Attributes{})
	infos, err := fs.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	buf, err := util.ReadFile(fs, fs.Join(s.Dir(), infos[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestFileStoreNonFiniteRoundTrip(t *testing.T) {
	s := newTestFileStore[[]float64](t, memfs.New())
	defer s.Close()

	s.SetValue("floats", []float64{math.Inf(1), math.Inf(-1), math.NaN(), 0.5}, Attributes{})
	val, ok := s.Value("floats")
	require.True(t, ok)
	require.Len(t, val, 4)
	assert.True(t, math.IsInf(val[0], 1))
	assert.True(t, math.IsInf(val[1], -1))
	assert.True(t, math.IsNaN(val[2]))
	assert.Equal(t, 0.5, val[3])
}

func TestFileStoreDeadEntryIsReclaimed(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)
	defer s.Close()

	s.SetValue("foo", "bar", Attributes{})
	s.SetAttributes("foo", ExpiresAt(time.Now().Add(-30*time.Second)))

	_, ok := s.Value("foo")
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		_, ok := s.Attributes("foo")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fileCount(t, fs, s.Dir()))
}

func TestFileStoreReclaimSkipsRenewedEntry(t *testing.T) {
	s := newTestFileStore[string](t, memfs.New())
	defer s.Close()

	s.SetValue("foo", "old", ExpiresAt(time.Now().Add(-time.Second)))
	s.mutex.RLock()
	filename := s.index["foo"].Filename
	s.mutex.RUnlock()

	// Renewed attributes on the same file.
	s.SetAttributes("foo", Attributes{})
	s.reclaim("foo", filename)
	val, ok := s.Value("foo")
	assert.True(t, ok)
	assert.Equal(t, "old", val)

	// Rewritten value that happens to be dead again.
	s.SetAttributes("foo", ExpiresAt(time.Now().Add(-time.Second)))
	s.SetValue("foo", "new", ExpiresAt(time.Now().Add(-time.Second)))
	s.reclaim("foo", filename)
	_, ok = s.Attributes("foo")
	assert.True(t, ok)
}

func TestFileStoreReclaimAfterClose(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)

	s.SetValue("foo", "old", ExpiresAt(time.Now().Add(-time.Second)))
	s.mutex.RLock()
	filename := s.index["foo"].Filename
	s.mutex.RUnlock()
	require.NoError(t, s.Close())

	s.reclaim("foo", filename)
	assert.Equal(t, 1, fileCount(t, fs, s.Dir()))
	records := readJournal(t, fs, s.IndexPath())
	require.Len(t, records, 1)
	assert.Equal(t, filename, records[0].Filename)
}

func TestFileStoreSetAttributesMissingKey(t *testing.T) {
	s := newTestFileStore[string](t, memfs.New())
	defer s.Close()

	s.SetAttributes("nope", ExpiresIn(time.Minute))
	_, ok := s.Attributes("nope")
	assert.False(t, ok)
}

func TestFileStoreRemoveAll(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[int](t, fs)
	defer s.Close()

	for i, k := range []string{"a", "b", "c"} {
		s.SetValue(k, i, Attributes{})
	}
	assert.Equal(t, 3, fileCount(t, fs, s.Dir()))

	s.RemoveAll()
	assert.Empty(t, s.Keys())
	assert.Equal(t, 0, fileCount(t, fs, s.Dir()))

	s.RemoveAll()
	assert.Empty(t, s.Keys())

	s.SetValue("d", 4, Attributes{})
	val, ok := s.Value("d")
	assert.True(t, ok)
	assert.Equal(t, 4, val)
}

func TestFileStoreDecodeFailureIsMiss(t *testing.T) {
	fs := memfs.New()
	log := logger.NewTestLogger()
	s := newTestFileStore[int](t, fs, WithLogger(log))
	defer s.Close()

	s.SetValue("n", 1, Attributes{})
	s.mutex.RLock()
	filename := s.index["n"].Filename
	s.mutex.RUnlock()
	require.NoError(t, util.WriteFile(fs, fs.Join(s.Dir(), filename), []byte("garbage"), 0o644))

	_, ok := s.Value("n")
	assert.False(t, ok)
	assert.True(t, log.Contains("ERROR", "failed to decode"))
}

// hostFileStore opens a store on the host filesystem under a temporary
// directory. Timer-driven saves run on their own goroutine, which memfs
// does not tolerate alongside reads from the test.
func hostFileStore[V any](t *testing.T, opts ...Option) (*FileStore[string, V], billy.Filesystem) {
	t.Helper()
	base := t.TempDir()
	fs := osfs.New("/")
	opts = append([]Option{
		WithFilesystem(fs),
		WithBaseDir(filepath.Join(base, "cache")),
		WithIndexDir(filepath.Join(base, "support")),
		WithLogger(logger.NewTestLogger()),
	}, opts...)
	s, err := NewFileStore[string, V]("test", opts...)
	require.NoError(t, err)
	return s, fs
}

func TestFileStoreDebouncedSave(t *testing.T) {
	s, fs := hostFileStore[string](t, WithSaveDelay(20*time.Millisecond), WithMaxSaveLag(time.Hour))
	defer s.Close()

	s.SetValue("foo", "bar", Attributes{})
	assert.Empty(t, readJournal(t, fs, s.IndexPath()))

	assert.Eventually(t, func() bool {
		return len(readJournal(t, fs, s.IndexPath())) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFileStoreMaxSaveLag(t *testing.T) {
	s, fs := hostFileStore[int](t, WithSaveDelay(30*time.Millisecond), WithMaxSaveLag(60*time.Millisecond))
	defer s.Close()

	// Keep mutating faster than the save delay; the lag bound still forces
	// saves through.
	deadline := time.Now().Add(time.Second)
	saved := false
	for i := 0; time.Now().Before(deadline); i++ {
		s.SetValue("counter", i, Attributes{})
		if len(readJournal(t, fs, s.IndexPath())) == 1 {
			saved = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, saved)
}

func TestFileStoreFlushAndReopen(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs, WithSaveDelay(time.Hour), WithMaxSaveLag(time.Hour))
	s.SetValue("foo", "bar", ExpiresIn(time.Hour))
	s.Flush()

	reopened := newTestFileStore[string](t, fs)
	defer reopened.Close()
	val, ok := reopened.Value("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
	attrs, ok := reopened.Attributes("foo")
	assert.True(t, ok)
	assert.False(t, attrs.ExpirationDate.IsZero())
	assert.NoError(t, s.Close())
}

func TestFileStoreCloseFlushes(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs, WithSaveDelay(time.Hour), WithMaxSaveLag(time.Hour))
	s.SetValue("foo", "bar", Attributes{})
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	reopened := newTestFileStore[string](t, fs)
	defer reopened.Close()
	val, ok := reopened.Value("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
}

func TestFileStoreReconcilesOnOpen(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)
	s.SetValue("kept", "1", Attributes{})
	s.SetValue("lost", "2", Attributes{})
	s.mutex.RLock()
	lostFile := s.index["lost"].Filename
	s.mutex.RUnlock()
	require.NoError(t, s.Close())

	require.NoError(t, fs.Remove(fs.Join(s.Dir(), lostFile)))
	require.NoError(t, util.WriteFile(fs, fs.Join(s.Dir(), "orphan"), []byte("x"), 0o644))

	reopened := newTestFileStore[string](t, fs)
	defer reopened.Close()
	assert.ElementsMatch(t, []string{"kept"}, reopened.Keys())
	assert.Equal(t, 1, fileCount(t, fs, reopened.Dir()))
	_, err := fs.Stat(fs.Join(reopened.Dir(), "orphan"))
	assert.True(t, os.IsNotExist(err))

	// The reconciled index is persisted right away.
	records := readJournal(t, fs, reopened.IndexPath())
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].Key)
}

func TestFileStoreCorruptIndex(t *testing.T) {
	fs := memfs.New()
	s := newTestFileStore[string](t, fs)
	s.SetValue("foo", "bar", Attributes{})
	require.NoError(t, s.Close())

	require.NoError(t, util.WriteFile(fs, s.IndexPath(), []byte(`{"version":1,"checksum":"0","entries":[]}`), 0o644))

	log := logger.NewTestLogger()
	reopened := newTestFileStore[string](t, fs, WithLogger(log))
	defer reopened.Close()
	assert.Empty(t, reopened.Keys())
	assert.Equal(t, 0, fileCount(t, fs, reopened.Dir()))
	assert.True(t, log.Contains("ERROR", "checksum mismatch"))
}

func TestFileStoreCodecMismatch(t *testing.T) {
	_, err := NewFileStore[string, int]("test", WithFilesystem(memfs.New()), WithBaseDir("/c"), WithIndexDir("/i"), WithCodec[string](JSONCodec[string]{}))
	assert.ErrorIs(t, err, ErrCodecMismatch)
}

func TestFileStoreUnusableDirectory(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewFileStore[string, string]("test", WithBaseDir(blocker), WithIndexDir(base), WithLogger(logger.NewTestLogger()))
	assert.ErrorIs(t, err, ErrUnusableBackend)
}

func TestFileStoreHostFilesystemRestart(t *testing.T) {
	base := t.TempDir()
	opts := []Option{WithBaseDir(filepath.Join(base, "cache")), WithIndexDir(filepath.Join(base, "support")), WithLogger(logger.NewTestLogger())}

	s, err := NewFileStore[string, map[string]int]("durable", opts...)
	require.NoError(t, err)
	s.SetValue("counts", map[string]int{"a": 1}, Attributes{})
	s.Flush()

	_, err = os.Stat(filepath.Join(base, "support", "durable.json"))
	require.NoError(t, err)

	reopened, err := NewFileStore[string, map[string]int]("durable", opts...)
	require.NoError(t, err)
	defer reopened.Close()
	val, ok := reopened.Value("counts")
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, val)
	assert.NoError(t, s.Close())
}
