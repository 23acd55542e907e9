// Package cache provides a generic, thread-safe key-value cache with
// pluggable storage backends, per-entry expiration and multi-tier lookup.
//
// # Engine and Storage
//
// A [Cache] wraps exactly one [Storage] and coordinates access to it with a
// reader/writer lock: reads run concurrently, writes are exclusive. Every
// operation has a blocking form and a completion form ([Cache.ValueAsync],
// [Cache.SetValueAsync] and so on) that returns immediately, runs the work
// on the configured work queue and delivers the result on the callback
// queue. Completions are never invoked inline, and two interleaved
// completion calls may finish in either order.
//
// Absence is never an error. Reads return (zero, false) for a missing key,
// a dead entry, or a value that could not be decoded. Write-side failures
// (encoding, I/O) are logged and leave the store unchanged.
//
// # Attributes
//
// Each entry carries [Attributes]: an optional expiration date and an
// optional removal date. An entry whose expiration or removal date has
// passed is dead ([Attributes.ShouldBeRemoved]); it is invisible to
// [Cache.Value] and [Cache.Contains] even before a backend physically
// reclaims it. [Cache.Remove] deletes every entry whose attributes satisfy a
// predicate, for example:
//
//	c.Remove(cache.Attributes.HasExpired)
//
// # Backends
//
//   - [NewMemoryStore] - a map guarded by a mutex. Values are stored as-is.
//     Dead entries are reclaimed lazily on read and by a background sweep
//     ([WithExpiryCheck]). The store clears itself when its
//     [PressureSource] reports critical memory pressure; [MemoryMonitor]
//     polls system memory usage for that purpose.
//
//   - [NewFileStore] - one file per entry under <base>/<name>/, named by a
//     random UUID rather than the key, plus an index of key to filename and
//     attributes in <index dir>/<name>.json. The in-memory index is
//     authoritative and is saved on a debounce ([WithSaveDelay]) bounded by
//     a maximum staleness ([WithMaxSaveLag]); [FileStore.Flush] saves at
//     once. On open, the index is reconciled with the directory: entries
//     whose file is gone are dropped and unreferenced files are deleted.
//     Two stores must never share a name and location.
//
//   - [NewSQLiteStore] - a table in a SQLite database using
//     [modernc.org/sqlite] (pure Go, no CGO). Deadlines are stored as
//     columns; dead rows are deleted on read and by a background sweep.
//
//   - [NewRedisStore] - one Redis hash per entry using
//     [github.com/redis/go-redis/v9]. Each key carries a native expiry at its
//     earliest deadline, so Redis reclaims dead entries by itself. The caller
//     owns the [redis.Client] lifecycle.
//
// # Serialization
//
// Persisting backends encode values with a [Codec]. [JSONCodec] is the
// FileStore default: []byte values are stored verbatim and everything else
// is written as a single-element JSON array, with non-finite floats encoded
// as "+Infinity", "-Infinity" and "NaN" so they round-trip exactly. Tokens
// are applied through struct fields (honouring json tags), pointers, slices,
// arrays and maps. A non-finite float held in an interface value would
// decode as a string, so encoding one fails and the write is dropped.
// [MsgpackCodec] ([github.com/vmihailenco/msgpack/v5]) is the SQLite and
// Redis default. Non-string keys must be JSON-encodable.
//
// # Tiers
//
// [Link] connects two caches, possibly of different key and value types,
// through a pair of [Transformer] values:
//
//	cache.Link(memory, disk, cache.AsParent, cache.Identity[string](), cache.Identity[User]())
//
// On a local miss, [Cache.Value] asks the parent tier for the value and its
// attributes and, if both are present and alive, stores them locally before
// returning (the cache warms from its parent). If a local write lands
// between the parent read and that write-back, the local state wins.
// [Cache.Contains] and [Cache.Attributes] fall back to the parent but never
// write back. Writes are always local; nothing propagates up or down.
//
// A key that fails to transform short-circuits to "not found" without
// touching the other tier, and a value that fails to transform on a write
// through a link is dropped. [CodecTransformer] links a typed tier to a
// []byte tier. [Chain] links same-typed caches fastest first.
//
// # Configuration
//
// Constructors take functional options. Options that do not apply to the
// component being built are ignored, so one option slice can configure a
// backend and the Cache over it:
//
//	opts := []cache.Option{cache.WithLogger(log), cache.WithNamespace("myapp")}
//	store, err := cache.NewFileStore[string, User]("users", opts...)
//	if err != nil {
//	    return err
//	}
//	users := cache.New[string, User](store, opts...)
//
// Construction fails only for unrecoverable setup problems; such errors
// match [ErrUnusableBackend] or [ErrCodecMismatch] with errors.Is.
package cache
