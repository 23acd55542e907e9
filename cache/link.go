package cache

// Relation names the slot a linked cache occupies.
type Relation int

const (
	// AsChild links the other cache below this one: it falls back to this
	// cache on a miss.
	AsChild Relation = iota
	// AsParent links the other cache above this one: this cache falls back
	// to it on a miss.
	AsParent
)

func (r Relation) inverse() Relation {
	if r == AsChild {
		return AsParent
	}
	return AsChild
}

func (r Relation) String() string {
	if r == AsChild {
		return "child"
	}
	return "parent"
}

// Link installs other as the rel of c, and c as the inverse relation of
// other. keys and values convert from c's types to other's; the reverse
// direction uses their Reversed forms. Linking again replaces whatever held
// the same slot on either side, and the replaced peers lose their link back.
func Link[K comparable, V any, K2 comparable, V2 any](c *Cache[K, V], other *Cache[K2, V2], rel Relation, keys Transformer[K, K2], values Transformer[V, V2]) {
	detach(c, c.setLink(rel, nil), rel)
	detach(other, other.setLink(rel.inverse(), nil), rel.inverse())
	c.setLink(rel, &linkAdapter[K, V, K2, V2]{target: other, keys: keys, values: values})
	other.setLink(rel.inverse(), &linkAdapter[K2, V2, K, V]{target: c, keys: keys.Reversed(), values: values.Reversed()})
	c.logger.Debug("linked %s tier", rel)
}

// Unlink removes the rel link of c along with the reverse link on the other
// side.
func Unlink[K comparable, V any](c *Cache[K, V], rel Relation) {
	detach(c, c.setLink(rel, nil), rel)
}

// detach clears the link back to owner held by the peer behind prev, which
// was owner's rel slot.
func detach(owner any, prev any, rel Relation) {
	if d, ok := prev.(detacher); ok {
		d.detach(rel.inverse(), owner)
	}
}

type detacher interface {
	detach(rel Relation, owner any)
}

// linkAdapter presents a Cache[K2, V2] as a Tier[K, V]. A key that fails to
// transform is reported missing without touching the target; a value that
// fails to transform is reported missing on reads and dropped on writes.
type linkAdapter[K comparable, V any, K2 comparable, V2 any] struct {
	target *Cache[K2, V2]
	keys   Transformer[K, K2]
	values Transformer[V, V2]
}

var _ Tier[string, any] = (*linkAdapter[string, any, int, []byte])(nil)

func (l *linkAdapter[K, V, K2, V2]) detach(rel Relation, owner any) {
	l.target.clearLinkTo(rel, owner)
}

func (l *linkAdapter[K, V, K2, V2]) linkedTo() any {
	return l.target
}

func (l *linkAdapter[K, V, K2, V2]) Contains(key K) bool {
	k, ok := l.keys.Transform(key)
	if !ok {
		return false
	}
	return l.target.Contains(k)
}

func (l *linkAdapter[K, V, K2, V2]) Value(key K) (V, bool) {
	var zero V
	k, ok := l.keys.Transform(key)
	if !ok {
		return zero, false
	}
	v, ok := l.target.Value(k)
	if !ok {
		return zero, false
	}
	return l.values.ReverseTransform(v)
}

func (l *linkAdapter[K, V, K2, V2]) SetValue(key K, value V, attrs Attributes) {
	k, ok := l.keys.Transform(key)
	if !ok {
		return
	}
	v, ok := l.values.Transform(value)
	if !ok {
		l.target.logger.Debug("dropping value for %v, transform failed", key)
		return
	}
	l.target.SetValue(k, v, attrs)
}

func (l *linkAdapter[K, V, K2, V2]) RemoveValue(key K) {
	if k, ok := l.keys.Transform(key); ok {
		l.target.RemoveValue(k)
	}
}

func (l *linkAdapter[K, V, K2, V2]) Attributes(key K) (Attributes, bool) {
	k, ok := l.keys.Transform(key)
	if !ok {
		return Attributes{}, false
	}
	return l.target.Attributes(k)
}

func (l *linkAdapter[K, V, K2, V2]) SetAttributes(key K, attrs Attributes) {
	if k, ok := l.keys.Transform(key); ok {
		l.target.SetAttributes(k, attrs)
	}
}

func (l *linkAdapter[K, V, K2, V2]) RemoveAll() {
	l.target.RemoveAll()
}

func (l *linkAdapter[K, V, K2, V2]) Remove(where func(Attributes) bool) {
	l.target.Remove(where)
}

func (l *linkAdapter[K, V, K2, V2]) ContainsAsync(key K, completion func(bool)) {
	k, ok := l.keys.Transform(key)
	if !ok {
		l.target.deliver(func() { completion(false) })
		return
	}
	l.target.ContainsAsync(k, completion)
}

func (l *linkAdapter[K, V, K2, V2]) ValueAsync(key K, completion func(V, bool)) {
	var zero V
	k, ok := l.keys.Transform(key)
	if !ok {
		l.target.deliver(func() { completion(zero, false) })
		return
	}
	l.target.ValueAsync(k, func(v V2, ok bool) {
		if !ok {
			completion(zero, false)
			return
		}
		completion(l.values.ReverseTransform(v))
	})
}

func (l *linkAdapter[K, V, K2, V2]) SetValueAsync(key K, value V, attrs Attributes, completion func()) {
	k, ok := l.keys.Transform(key)
	if !ok {
		l.target.deliver(completion)
		return
	}
	v, ok := l.values.Transform(value)
	if !ok {
		l.target.deliver(completion)
		return
	}
	l.target.SetValueAsync(k, v, attrs, completion)
}

func (l *linkAdapter[K, V, K2, V2]) RemoveValueAsync(key K, completion func()) {
	k, ok := l.keys.Transform(key)
	if !ok {
		l.target.deliver(completion)
		return
	}
	l.target.RemoveValueAsync(k, completion)
}

func (l *linkAdapter[K, V, K2, V2]) AttributesAsync(key K, completion func(Attributes, bool)) {
	k, ok := l.keys.Transform(key)
	if !ok {
		l.target.deliver(func() { completion(Attributes{}, false) })
		return
	}
	l.target.AttributesAsync(k, completion)
}

func (l *linkAdapter[K, V, K2, V2]) SetAttributesAsync(key K, attrs Attributes, completion func()) {
	k, ok := l.keys.Transform(key)
	if !ok {
		l.target.deliver(completion)
		return
	}
	l.target.SetAttributesAsync(k, attrs, completion)
}

func (l *linkAdapter[K, V, K2, V2]) RemoveAllAsync(completion func()) {
	l.target.RemoveAllAsync(completion)
}

func (l *linkAdapter[K, V, K2, V2]) RemoveAsync(where func(Attributes) bool, completion func()) {
	l.target.RemoveAsync(where, completion)
}
