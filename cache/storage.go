package cache

// Storage is the contract a Cache delegates persistence to. Every method
// must be safe for concurrent use and atomic with respect to the other
// methods on the same key.
//
// Entries whose attributes say ShouldBeRemoved are invisible to Value even
// when not yet reclaimed; a read may schedule their reclamation. Attributes
// and AllAttributes still report them, which is what lets a Cache remove
// dead entries by predicate.
type Storage[K comparable, V any] interface {
	// Value returns the value for key if it is present and alive.
	Value(key K) (V, bool)
	// SetValue stores value under key with attrs, replacing any entry.
	SetValue(key K, value V, attrs Attributes)
	// RemoveValue deletes the entry for key, if any.
	RemoveValue(key K)
	// Attributes returns the attributes for key, even if the entry is dead.
	Attributes(key K) (Attributes, bool)
	// SetAttributes replaces the attributes of an existing entry. It is a
	// no-op if key is absent.
	SetAttributes(key K, attrs Attributes)
	// RemoveAll deletes every entry.
	RemoveAll()
	// Keys returns a snapshot of every key, dead or alive.
	Keys() []K
	// AllAttributes returns a snapshot of every entry's attributes.
	AllAttributes() map[K]Attributes
	// Close releases background work and resources held by the backend.
	Close() error
}
