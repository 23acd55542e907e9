package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/agentuity/go-tiercache/logger"
)

type memoryEntry[V any] struct {
	value      V
	attrs      Attributes
	generation uint64
}

// MemoryStore is an in-process Storage. Values are stored as-is, so
// mutations to stored pointers are visible through the store. The whole
// store is dropped when its PressureSource reports critical memory.
type MemoryStore[K comparable, V any] struct {
	ctx        context.Context
	cancel     context.CancelFunc
	entries    map[K]*memoryEntry[V]
	generation uint64
	mutex      sync.RWMutex
	waitGroup  sync.WaitGroup
	once       sync.Once
	release    func()
	cfg        config
	logger     logger.Logger
}

var _ Storage[string, any] = (*MemoryStore[string, any])(nil)

// NewMemoryStore returns an empty MemoryStore. Background reclamation of
// dead entries stops when parent is cancelled or Close is called.
func NewMemoryStore[K comparable, V any](parent context.Context, opts ...Option) *MemoryStore[K, V] {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	s := &MemoryStore[K, V]{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[K]*memoryEntry[V]),
		cfg:     cfg,
		logger:  cfg.logger.WithPrefix("[memory]"),
	}
	s.release = cfg.pressure.OnCritical(func() {
		s.logger.Info("memory pressure, dropping all entries")
		s.RemoveAll()
	})
	if cfg.expiryCheck > 0 {
		s.waitGroup.Add(1)
		go s.run()
	}
	return s
}

func (s *MemoryStore[K, V]) Value(key K) (V, bool) {
	var zero V
	s.mutex.RLock()
	e, ok := s.entries[key]
	if !ok {
		s.mutex.RUnlock()
		return zero, false
	}
	if e.attrs.ShouldBeRemoved() {
		generation := e.generation
		s.mutex.RUnlock()
		s.cfg.work.Dispatch(func() { s.reclaim(key, generation) })
		return zero, false
	}
	val := e.value
	s.mutex.RUnlock()
	return val, true
}

// reclaim deletes key only if it still holds the same value and is still
// dead, so an entry renewed since the stale read survives.
func (s *MemoryStore[K, V]) reclaim(key K, generation uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if e, ok := s.entries[key]; ok && e.generation == generation && e.attrs.ShouldBeRemoved() {
		delete(s.entries, key)
		s.logger.Trace("reclaimed %v", key)
	}
}

func (s *MemoryStore[K, V]) SetValue(key K, value V, attrs Attributes) {
	s.mutex.Lock()
	s.generation++
	s.entries[key] = &memoryEntry[V]{value: value, attrs: attrs, generation: s.generation}
	s.mutex.Unlock()
}

func (s *MemoryStore[K, V]) RemoveValue(key K) {
	s.mutex.Lock()
	delete(s.entries, key)
	s.mutex.Unlock()
}

func (s *MemoryStore[K, V]) Attributes(key K) (Attributes, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.attrs, true
	}
	return Attributes{}, false
}

func (s *MemoryStore[K, V]) SetAttributes(key K, attrs Attributes) {
	s.mutex.Lock()
	if e, ok := s.entries[key]; ok {
		e.attrs = attrs
	}
	s.mutex.Unlock()
}

func (s *MemoryStore[K, V]) RemoveAll() {
	s.mutex.Lock()
	clear(s.entries)
	s.mutex.Unlock()
}

func (s *MemoryStore[K, V]) Keys() []K {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return slices.Collect(maps.Keys(s.entries))
}

func (s *MemoryStore[K, V]) AllAttributes() map[K]Attributes {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[K]Attributes, len(s.entries))
	for key, e := range s.entries {
		out[key] = e.attrs
	}
	return out
}

// Len returns the number of stored entries, dead or alive.
func (s *MemoryStore[K, V]) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore[K, V]) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}

func (s *MemoryStore[K, V]) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mutex.Lock()
			for key, e := range s.entries {
				if e.attrs.ShouldBeRemovedAt(now) {
					delete(s.entries, key)
				}
			}
			s.mutex.Unlock()
		}
	}
}
