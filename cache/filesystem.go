package cache

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentuity/go-tiercache/logger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	gap "github.com/muesli/go-app-paths"
)

// indexEntry locates an entry's file and carries its attributes.
type indexEntry struct {
	Filename   string
	Attributes Attributes
}

// FileStore is a Storage keeping one file per entry in <base>/<name>/ and an
// index of key -> (filename, attributes) in <index dir>/<name>.json.
//
// The in-memory index is authoritative. It is written back to disk on a
// debounce: a save happens once mutations pause for the save delay, or at
// the latest when the persisted copy is older than the max save lag.
// Keys must be JSON-encodable. Two stores must never share a name and
// location.
type FileStore[K comparable, V any] struct {
	name      string
	fs        billy.Filesystem
	dir       string
	indexPath string
	codec     Codec[V]
	cfg       config
	logger    logger.Logger

	mutex sync.RWMutex
	index map[K]indexEntry

	// debounce state, guarded by mutex
	saveSeq  uint64
	lastSave time.Time
	dirty    bool
	closed   bool
}

var _ Storage[string, any] = (*FileStore[string, any])(nil)

// NewFileStore opens or creates the store called name. Any existing index
// is loaded and reconciled against the data directory: entries whose file
// is gone are dropped, files no entry references are deleted, and the
// result is saved immediately. Failing to create either directory makes the
// store unusable and returns an error wrapping ErrUnusableBackend.
func NewFileStore[K comparable, V any](name string, opts ...Option) (*FileStore[K, V], error) {
	cfg := applyOptions(opts)
	codec, err := resolveCodec[V](cfg, JSONCodec[V]{})
	if err != nil {
		return nil, err
	}
	fs := cfg.fs
	if fs == nil {
		fs = osfs.New("/")
	}
	scope := gap.NewScope(gap.User, cfg.namespace)
	baseDir := cfg.baseDir
	if baseDir == "" {
		if baseDir, err = scope.CacheDir(); err != nil {
			return nil, unusable(err, "cache: resolving cache dir for %q", cfg.namespace)
		}
	}
	indexDir := cfg.indexDir
	if indexDir == "" {
		dirs, err := scope.DataDirs()
		if err != nil || len(dirs) == 0 {
			if err == nil {
				err = os.ErrNotExist
			}
			return nil, unusable(err, "cache: resolving data dir for %q", cfg.namespace)
		}
		indexDir = dirs[0]
	}
	if cfg.fs == nil {
		// The host filesystem is rooted at "/", so relative paths are
		// resolved against the working directory first.
		if baseDir, err = filepath.Abs(baseDir); err != nil {
			return nil, unusable(err, "cache: resolving %q", baseDir)
		}
		if indexDir, err = filepath.Abs(indexDir); err != nil {
			return nil, unusable(err, "cache: resolving %q", indexDir)
		}
	}

	s := &FileStore[K, V]{
		name:      name,
		fs:        fs,
		dir:       fs.Join(baseDir, name),
		indexPath: fs.Join(indexDir, name+".json"),
		codec:     codec,
		cfg:       cfg,
		logger:    cfg.logger.WithPrefix("[file:" + name + "]"),
		index:     make(map[K]indexEntry),
		lastSave:  time.Now(),
	}
	if err := fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, unusable(err, "cache: creating directory %s", s.dir)
	}
	if err := fs.MkdirAll(indexDir, 0o755); err != nil {
		return nil, unusable(err, "cache: creating directory %s", indexDir)
	}
	s.loadIndex()
	if err := s.reconcile(); err != nil {
		return nil, unusable(err, "cache: listing directory %s", s.dir)
	}
	s.mutex.Lock()
	s.save()
	s.mutex.Unlock()
	s.logger.Debug("opened with %d entries", len(s.index))
	return s, nil
}

// Dir returns the directory holding the entry files.
func (s *FileStore[K, V]) Dir() string {
	return s.dir
}

// IndexPath returns the location of the persisted index.
func (s *FileStore[K, V]) IndexPath() string {
	return s.indexPath
}

func (s *FileStore[K, V]) path(filename string) string {
	return s.fs.Join(s.dir, filename)
}

func (s *FileStore[K, V]) Value(key K) (V, bool) {
	var zero V
	s.mutex.RLock()
	e, ok := s.index[key]
	if !ok {
		s.mutex.RUnlock()
		s.logger.Trace("miss %v", key)
		return zero, false
	}
	if e.Attributes.ShouldBeRemoved() {
		s.mutex.RUnlock()
		s.logger.Trace("dead %v", key)
		s.cfg.work.Dispatch(func() { s.reclaim(key, e.Filename) })
		return zero, false
	}
	buf, err := util.ReadFile(s.fs, s.path(e.Filename))
	s.mutex.RUnlock()
	if err != nil {
		s.logger.Error("failed to read %s for %v: %s", e.Filename, key, err)
		return zero, false
	}
	val, err := s.codec.Decode(buf)
	if err != nil {
		s.logger.Error("failed to decode %s for %v: %s", e.Filename, key, err)
		return zero, false
	}
	s.logger.Trace("hit %v", key)
	return val, true
}

// reclaim deletes a dead entry found by a read. Both the attributes and the
// file must be unchanged since that read; a renewed or rewritten entry is
// left alone. A closed store has already flushed its index and is not
// touched.
func (s *FileStore[K, V]) reclaim(key K, filename string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}
	e, ok := s.index[key]
	if !ok || e.Filename != filename || !e.Attributes.ShouldBeRemoved() {
		return
	}
	delete(s.index, key)
	s.removeFile(filename)
	s.scheduleSave()
	s.logger.Trace("reclaimed %v", key)
}

func (s *FileStore[K, V]) SetValue(key K, value V, attrs Attributes) {
	buf, err := s.codec.Encode(value)
	if err != nil {
		s.logger.Error("failed to encode value for %v: %s", key, err)
		return
	}
	filename := uuid.NewString()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := util.WriteFile(s.fs, s.path(filename), buf, 0o644); err != nil {
		s.logger.Error("failed to write %s for %v: %s", filename, key, err)
		_ = s.fs.Remove(s.path(filename))
		return
	}
	old, existed := s.index[key]
	s.index[key] = indexEntry{Filename: filename, Attributes: attrs}
	if existed {
		s.removeFile(old.Filename)
	}
	s.scheduleSave()
}

func (s *FileStore[K, V]) RemoveValue(key K) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.index[key]
	if !ok {
		return
	}
	delete(s.index, key)
	s.removeFile(e.Filename)
	s.scheduleSave()
}

func (s *FileStore[K, V]) Attributes(key K) (Attributes, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	e, ok := s.index[key]
	return e.Attributes, ok
}

func (s *FileStore[K, V]) SetAttributes(key K, attrs Attributes) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.index[key]
	if !ok {
		return
	}
	e.Attributes = attrs
	s.index[key] = e
	s.scheduleSave()
}

// RemoveAll clears the index and deletes the data directory. The index is
// cleared even if the directory cannot be deleted; leftover files are
// removed by the next startup's reconciliation.
func (s *FileStore[K, V]) RemoveAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	clear(s.index)
	if err := util.RemoveAll(s.fs, s.dir); err != nil {
		s.logger.Error("failed to remove %s: %s", s.dir, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Error("failed to recreate %s: %s", s.dir, err)
	}
	s.scheduleSave()
}

func (s *FileStore[K, V]) Keys() []K {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys := make([]K, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	return keys
}

func (s *FileStore[K, V]) AllAttributes() map[K]Attributes {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[K]Attributes, len(s.index))
	for key, e := range s.index {
		out[key] = e.Attributes
	}
	return out
}

// Flush writes the index now if it has unsaved changes.
func (s *FileStore[K, V]) Flush() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.dirty {
		s.save()
	}
}

// Close flushes the index and stops pending debounced saves.
func (s *FileStore[K, V]) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty {
		s.save()
	}
	return nil
}

func (s *FileStore[K, V]) removeFile(filename string) {
	if err := s.fs.Remove(s.path(filename)); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove %s: %s", filename, err)
	}
}
