package cache

import (
	"time"

	"github.com/agentuity/go-tiercache/logger"
	"github.com/go-git/go-billy/v5"
)

// DefaultNamespace scopes the default directories of a FileStore.
const DefaultNamespace = "tiercache"

// DefaultSaveDelay is the quiet period a FileStore waits after a mutation
// before writing its index.
const DefaultSaveDelay = 2 * time.Second

// DefaultMaxSaveLag bounds how stale the persisted index may get under a
// continuous stream of mutations.
const DefaultMaxSaveLag = 5 * time.Second

// DefaultQueryTimeout is the per-operation timeout for backends that
// perform network or database I/O (SQLite, Redis).
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for engines and backends.
type config struct {
	logger       logger.Logger
	work         Dispatcher
	callbacks    Dispatcher
	pressure     PressureSource
	expiryCheck  time.Duration
	namespace    string
	baseDir      string
	indexDir     string
	fs           billy.Filesystem
	saveDelay    time.Duration
	maxSaveLag   time.Duration
	codec        any
	prefix       string
	queryTimeout time.Duration
}

// Option configures a Cache or one of its storage backends. Options that do
// not apply to the component being built are ignored.
type Option func(*config)

func defaultConfig() config {
	return config{
		expiryCheck:  time.Minute,
		namespace:    DefaultNamespace,
		saveDelay:    DefaultSaveDelay,
		maxSaveLag:   DefaultMaxSaveLag,
		queryTimeout: DefaultQueryTimeout,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelError)
	}
	if cfg.work == nil {
		cfg.work = DefaultDispatcher()
	}
	if cfg.callbacks == nil {
		cfg.callbacks = DefaultDispatcher()
	}
	if cfg.pressure == nil {
		cfg.pressure = NoPressure{}
	}
	return cfg
}

// WithLogger sets the diagnostic logger. Defaults to a console logger that
// only reports errors.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithWorkQueue sets where the completion forms of Cache operations run.
// Defaults to DefaultDispatcher().
func WithWorkQueue(d Dispatcher) Option {
	return func(c *config) { c.work = d }
}

// WithCallbackQueue sets where completion callbacks are delivered.
// Defaults to DefaultDispatcher().
func WithCallbackQueue(d Dispatcher) Option {
	return func(c *config) { c.callbacks = d }
}

// WithPressureSource subscribes a MemoryStore to a low-memory signal.
// Defaults to NoPressure.
func WithPressureSource(p PressureSource) Option {
	return func(c *config) { c.pressure = p }
}

// WithExpiryCheck sets the interval of the background sweep that reclaims
// dead entries. Applies to MemoryStore and SQLiteStore. Zero or negative
// disables the sweep. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithNamespace sets the application scope used to derive the default
// directories of a FileStore.
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// WithBaseDir sets the directory under which a FileStore creates its
// per-name data directory. Defaults to the user cache dir of the namespace.
func WithBaseDir(dir string) Option {
	return func(c *config) { c.baseDir = dir }
}

// WithIndexDir sets the directory holding the FileStore index files.
// Defaults to the user data dir of the namespace.
func WithIndexDir(dir string) Option {
	return func(c *config) { c.indexDir = dir }
}

// WithFilesystem sets the filesystem a FileStore writes through. Defaults
// to the host filesystem.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(c *config) { c.fs = fs }
}

// WithSaveDelay sets the FileStore index debounce delay.
func WithSaveDelay(d time.Duration) Option {
	return func(c *config) { c.saveDelay = d }
}

// WithMaxSaveLag sets the longest a FileStore lets its persisted index lag
// behind memory while mutations keep arriving.
func WithMaxSaveLag(d time.Duration) Option {
	return func(c *config) { c.maxSaveLag = d }
}

// WithCodec sets the value codec of a persisting backend. The codec's type
// parameter must match the backend's value type.
func WithCodec[V any](codec Codec[V]) Option {
	return func(c *config) { c.codec = codec }
}

// WithPrefix sets the key prefix for namespacing Redis keys.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithQueryTimeout sets the per-operation timeout for SQLite and Redis.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

func resolveCodec[V any](cfg config, def Codec[V]) (Codec[V], error) {
	if cfg.codec == nil {
		return def, nil
	}
	codec, ok := cfg.codec.(Codec[V])
	if !ok {
		var zero V
		return nil, wrapCodecMismatch(cfg.codec, zero)
	}
	return codec, nil
}
