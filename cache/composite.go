package cache

// Chain links same-typed caches into a tier chain, fastest first: each
// cache becomes the parent of the one before it. Reads on the returned
// cache (the first) fall through the chain and warm every tier they pass.
// At least one cache must be provided; panics if empty.
func Chain[K comparable, V any](tiers ...*Cache[K, V]) *Cache[K, V] {
	if len(tiers) == 0 {
		panic("cache: Chain requires at least one cache")
	}
	for i := 0; i+1 < len(tiers); i++ {
		Link(tiers[i], tiers[i+1], AsParent, Identity[K](), Identity[V]())
	}
	return tiers[0]
}
