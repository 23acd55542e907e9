package cache

// async runs op on the work queue, then deliver on the callback queue.
func (c *Cache[K, V]) async(op func(), deliver func()) {
	c.cfg.work.Dispatch(func() {
		op()
		if deliver != nil {
			c.cfg.callbacks.Dispatch(deliver)
		}
	})
}

// deliver schedules a result on the callback queue without doing any work.
func (c *Cache[K, V]) deliver(fn func()) {
	if fn != nil {
		c.cfg.callbacks.Dispatch(fn)
	}
}

func (c *Cache[K, V]) ContainsAsync(key K, completion func(bool)) {
	var found bool
	c.async(func() { found = c.Contains(key) }, func() { completion(found) })
}

func (c *Cache[K, V]) ValueAsync(key K, completion func(V, bool)) {
	var (
		val V
		ok  bool
	)
	c.async(func() { val, ok = c.Value(key) }, func() { completion(val, ok) })
}

func (c *Cache[K, V]) SetValueAsync(key K, value V, attrs Attributes, completion func()) {
	c.async(func() { c.SetValue(key, value, attrs) }, completion)
}

func (c *Cache[K, V]) RemoveValueAsync(key K, completion func()) {
	c.async(func() { c.RemoveValue(key) }, completion)
}

func (c *Cache[K, V]) AttributesAsync(key K, completion func(Attributes, bool)) {
	var (
		attrs Attributes
		ok    bool
	)
	c.async(func() { attrs, ok = c.Attributes(key) }, func() { completion(attrs, ok) })
}

func (c *Cache[K, V]) SetAttributesAsync(key K, attrs Attributes, completion func()) {
	c.async(func() { c.SetAttributes(key, attrs) }, completion)
}

func (c *Cache[K, V]) RemoveAllAsync(completion func()) {
	c.async(c.RemoveAll, completion)
}

func (c *Cache[K, V]) RemoveAsync(where func(Attributes) bool, completion func()) {
	c.async(func() { c.Remove(where) }, completion)
}
