package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/agentuity/go-tiercache/logger"
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a Storage backed by a SQLite table. Values go through the
// configured codec (msgpack by default) and keys are stored as strings, so
// non-string keys must be JSON-encodable.
type SQLiteStore[K comparable, V any] struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
	codec     Codec[V]
	logger    logger.Logger
}

var _ Storage[string, any] = (*SQLiteStore[string, any])(nil)

// deadSQL matches rows that are expired or past their removal date at the
// bound instant (passed twice).
const deadSQL = `((expires_at IS NOT NULL AND expires_at <= ?) OR (removes_at IS NOT NULL AND removes_at <= ?))`

// NewSQLiteStore opens the database at dbPath. If dbPath is empty or
// ":memory:", an in-memory database is used.
func NewSQLiteStore[K comparable, V any](ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore[K, V], error) {
	cfg := applyOptions(opts)
	codec, err := resolveCodec[V](cfg, MsgpackCodec[V]{})
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, unusable(err, "cache: opening %s", dbPath)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, unusable(err, "cache: configuring %s", dbPath)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER,
		removes_at INTEGER
	)`); err != nil {
		db.Close()
		return nil, unusable(err, "cache: creating table in %s", dbPath)
	}

	childCtx, cancel := context.WithCancel(ctx)
	s := &SQLiteStore[K, V]{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
		codec:  codec,
		logger: cfg.logger.WithPrefix("[sqlite]"),
	}
	if cfg.expiryCheck > 0 {
		s.waitGroup.Add(1)
		go s.run()
	}
	return s, nil
}

func (s *SQLiteStore[K, V]) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.queryTimeout)
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}

func (s *SQLiteStore[K, V]) Value(key K) (V, bool) {
	var zero V
	k, err := encodeKey(key)
	if err != nil {
		s.logger.Error("failed to encode key %v: %s", key, err)
		return zero, false
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	var (
		data              []byte
		expires, removals sql.NullInt64
	)
	err = s.db.QueryRowContext(qctx,
		`SELECT value, expires_at, removes_at FROM cache WHERE key = ?`, k,
	).Scan(&data, &expires, &removals)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false
	}
	if err != nil {
		s.logger.Error("failed to read %v: %s", key, err)
		return zero, false
	}
	attrs := Attributes{ExpirationDate: fromNullTime(expires), RemovalDate: fromNullTime(removals)}
	if attrs.ShouldBeRemoved() {
		s.cfg.work.Dispatch(func() { s.reclaim(k) })
		return zero, false
	}
	val, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Error("failed to decode %v: %s", key, err)
		return zero, false
	}
	return val, true
}

// reclaim deletes the row only if it is still dead, so a row renewed since
// the read survives.
func (s *SQLiteStore[K, V]) reclaim(k string) {
	qctx, cancel := s.queryCtx()
	defer cancel()
	now := time.Now().UnixNano()
	if _, err := s.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ? AND `+deadSQL, k, now, now); err != nil {
		s.logger.Error("failed to reclaim %s: %s", k, err)
	}
}

func (s *SQLiteStore[K, V]) SetValue(key K, value V, attrs Attributes) {
	k, err := encodeKey(key)
	if err != nil {
		s.logger.Error("failed to encode key %v: %s", key, err)
		return
	}
	data, err := s.codec.Encode(value)
	if err != nil {
		s.logger.Error("failed to encode value for %v: %s", key, err)
		return
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	_, err = s.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at, removes_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, removes_at = excluded.removes_at`,
		k, data, nullTime(attrs.ExpirationDate), nullTime(attrs.RemovalDate),
	)
	if err != nil {
		s.logger.Error("failed to write %v: %s", key, err)
	}
}

func (s *SQLiteStore[K, V]) RemoveValue(key K) {
	k, err := encodeKey(key)
	if err != nil {
		return
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	if _, err := s.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, k); err != nil {
		s.logger.Error("failed to delete %v: %s", key, err)
	}
}

func (s *SQLiteStore[K, V]) Attributes(key K) (Attributes, bool) {
	k, err := encodeKey(key)
	if err != nil {
		return Attributes{}, false
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	var expires, removals sql.NullInt64
	err = s.db.QueryRowContext(qctx,
		`SELECT expires_at, removes_at FROM cache WHERE key = ?`, k,
	).Scan(&expires, &removals)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("failed to read attributes of %v: %s", key, err)
		}
		return Attributes{}, false
	}
	return Attributes{ExpirationDate: fromNullTime(expires), RemovalDate: fromNullTime(removals)}, true
}

func (s *SQLiteStore[K, V]) SetAttributes(key K, attrs Attributes) {
	k, err := encodeKey(key)
	if err != nil {
		return
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	_, err = s.db.ExecContext(qctx,
		`UPDATE cache SET expires_at = ?, removes_at = ? WHERE key = ?`,
		nullTime(attrs.ExpirationDate), nullTime(attrs.RemovalDate), k,
	)
	if err != nil {
		s.logger.Error("failed to update attributes of %v: %s", key, err)
	}
}

func (s *SQLiteStore[K, V]) RemoveAll() {
	qctx, cancel := s.queryCtx()
	defer cancel()
	if _, err := s.db.ExecContext(qctx, `DELETE FROM cache`); err != nil {
		s.logger.Error("failed to clear: %s", err)
	}
}

func (s *SQLiteStore[K, V]) Keys() []K {
	attrs := s.AllAttributes()
	keys := make([]K, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	return keys
}

func (s *SQLiteStore[K, V]) AllAttributes() map[K]Attributes {
	out := make(map[K]Attributes)
	qctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `SELECT key, expires_at, removes_at FROM cache`)
	if err != nil {
		s.logger.Error("failed to list entries: %s", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k                 string
			expires, removals sql.NullInt64
		)
		if err := rows.Scan(&k, &expires, &removals); err != nil {
			s.logger.Error("failed to scan entry: %s", err)
			continue
		}
		key, err := decodeKey[K](k)
		if err != nil {
			s.logger.Error("failed to decode key %s: %s", k, err)
			continue
		}
		out[key] = Attributes{ExpirationDate: fromNullTime(expires), RemovalDate: fromNullTime(removals)}
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("failed to list entries: %s", err)
	}
	return out
}

func (s *SQLiteStore[K, V]) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *SQLiteStore[K, V]) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = s.db.ExecContext(s.ctx, `DELETE FROM cache WHERE `+deadSQL, now, now)
		}
	}
}
