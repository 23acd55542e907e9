package cache

import (
	"sync"

	"github.com/agentuity/go-tiercache/logger"
)

// Tier is the operation set shared by a Cache and by the adapters that link
// caches together. Every blocking operation has a completion form that
// returns immediately and delivers its result on the callback queue.
type Tier[K comparable, V any] interface {
	Contains(key K) bool
	Value(key K) (V, bool)
	SetValue(key K, value V, attrs Attributes)
	RemoveValue(key K)
	Attributes(key K) (Attributes, bool)
	SetAttributes(key K, attrs Attributes)
	RemoveAll()
	Remove(where func(Attributes) bool)

	ContainsAsync(key K, completion func(bool))
	ValueAsync(key K, completion func(V, bool))
	SetValueAsync(key K, value V, attrs Attributes, completion func())
	RemoveValueAsync(key K, completion func())
	AttributesAsync(key K, completion func(Attributes, bool))
	SetAttributesAsync(key K, attrs Attributes, completion func())
	RemoveAllAsync(completion func())
	RemoveAsync(where func(Attributes) bool, completion func())
}

// Cache coordinates access to one Storage. Reads run concurrently, writes
// are exclusive. A Cache may have a parent tier it falls back to on a miss
// and a child tier; see Link.
//
// Writes are always local: nothing propagates to the parent or the child.
// The only data that crosses tiers is what a read pulls down from the
// parent.
type Cache[K comparable, V any] struct {
	storage Storage[K, V]
	mutex   sync.RWMutex
	cfg     config
	logger  logger.Logger

	linkMutex sync.RWMutex
	parent    Tier[K, V]
	child     Tier[K, V]
}

var _ Tier[string, any] = (*Cache[string, any])(nil)

// New returns a Cache over storage.
func New[K comparable, V any](storage Storage[K, V], opts ...Option) *Cache[K, V] {
	cfg := applyOptions(opts)
	return &Cache[K, V]{
		storage: storage,
		cfg:     cfg,
		logger:  cfg.logger.WithPrefix("[cache]"),
	}
}

// Storage returns the backend this cache owns.
func (c *Cache[K, V]) Storage() Storage[K, V] {
	return c.storage
}

// Parent returns the parent tier, or nil.
func (c *Cache[K, V]) Parent() Tier[K, V] {
	c.linkMutex.RLock()
	defer c.linkMutex.RUnlock()
	return c.parent
}

// Child returns the child tier, or nil.
func (c *Cache[K, V]) Child() Tier[K, V] {
	c.linkMutex.RLock()
	defer c.linkMutex.RUnlock()
	return c.child
}

func (c *Cache[K, V]) setLink(rel Relation, t Tier[K, V]) Tier[K, V] {
	c.linkMutex.Lock()
	defer c.linkMutex.Unlock()
	var prev Tier[K, V]
	if rel == AsChild {
		prev, c.child = c.child, t
	} else {
		prev, c.parent = c.parent, t
	}
	return prev
}

// clearLinkTo empties the rel slot only if it still links to peer.
func (c *Cache[K, V]) clearLinkTo(rel Relation, peer any) {
	c.linkMutex.Lock()
	defer c.linkMutex.Unlock()
	slot := &c.parent
	if rel == AsChild {
		slot = &c.child
	}
	if l, ok := (*slot).(interface{ linkedTo() any }); ok && l.linkedTo() == peer {
		*slot = nil
	}
}

// Contains reports whether key has a live entry locally or, failing that,
// in the parent tier. It never writes.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mutex.RLock()
	attrs, ok := c.storage.Attributes(key)
	c.mutex.RUnlock()
	if ok && !attrs.ShouldBeRemoved() {
		return true
	}
	if parent := c.Parent(); parent != nil {
		return parent.Contains(key)
	}
	return false
}

// liveAttributes reads local attributes, treating a dead entry as absent.
// Callers hold the lock.
func (c *Cache[K, V]) liveAttributes(key K) (Attributes, bool) {
	attrs, ok := c.storage.Attributes(key)
	if !ok || attrs.ShouldBeRemoved() {
		return Attributes{}, false
	}
	return attrs, true
}

// Value returns the live value for key. On a local miss it asks the parent
// tier for the value and its attributes and, if both agree and are alive,
// stores them locally before returning. If a local write lands between the
// parent read and the write-back, the local state wins.
func (c *Cache[K, V]) Value(key K) (V, bool) {
	var zero V
	c.mutex.RLock()
	val, ok := c.storage.Value(key)
	before, existed := c.liveAttributes(key)
	c.mutex.RUnlock()
	if ok {
		c.logger.Trace("hit %v", key)
		return val, true
	}

	parent := c.Parent()
	if parent == nil {
		c.logger.Trace("miss %v", key)
		return zero, false
	}
	pval, hasValue := parent.Value(key)
	pattrs, hasAttrs := parent.Attributes(key)
	if hasValue != hasAttrs {
		// The two parent reads are not atomic; a half-visible entry is
		// reported as missing rather than stored.
		c.logger.Debug("parent changed while reading %v, treating as miss", key)
		return zero, false
	}
	if !hasValue || pattrs.ShouldBeRemoved() {
		c.logger.Trace("miss %v in parent", key)
		return zero, false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	after, exists := c.liveAttributes(key)
	if existed != exists || (exists && !after.Equal(before)) {
		c.logger.Debug("local write to %v raced parent read, keeping local", key)
		return c.storage.Value(key)
	}
	c.storage.SetValue(key, pval, pattrs)
	c.logger.Trace("warmed %v from parent", key)
	return pval, true
}

// SetValue stores value under key locally.
func (c *Cache[K, V]) SetValue(key K, value V, attrs Attributes) {
	c.mutex.Lock()
	c.storage.SetValue(key, value, attrs)
	c.mutex.Unlock()
}

// RemoveValue deletes key locally.
func (c *Cache[K, V]) RemoveValue(key K) {
	c.mutex.Lock()
	c.storage.RemoveValue(key)
	c.mutex.Unlock()
}

// Attributes returns the local attributes for key, falling back to the
// parent tier. Dead local entries still report their attributes.
func (c *Cache[K, V]) Attributes(key K) (Attributes, bool) {
	c.mutex.RLock()
	attrs, ok := c.storage.Attributes(key)
	c.mutex.RUnlock()
	if ok {
		return attrs, true
	}
	if parent := c.Parent(); parent != nil {
		return parent.Attributes(key)
	}
	return Attributes{}, false
}

// SetAttributes replaces the attributes of an existing local entry.
func (c *Cache[K, V]) SetAttributes(key K, attrs Attributes) {
	c.mutex.Lock()
	c.storage.SetAttributes(key, attrs)
	c.mutex.Unlock()
}

// RemoveAll deletes every local entry.
func (c *Cache[K, V]) RemoveAll() {
	c.mutex.Lock()
	c.storage.RemoveAll()
	c.mutex.Unlock()
}

// Remove deletes every local entry whose attributes satisfy where. The
// entries are those present when the call takes the write lock.
func (c *Cache[K, V]) Remove(where func(Attributes) bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	removed := 0
	for key, attrs := range c.storage.AllAttributes() {
		if where(attrs) {
			c.storage.RemoveValue(key)
			removed++
		}
	}
	c.logger.Debug("removed %d entries by predicate", removed)
}

// Close closes the underlying storage.
func (c *Cache[K, V]) Close() error {
	return c.storage.Close()
}
