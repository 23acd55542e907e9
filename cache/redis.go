package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-tiercache/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// RedisStore is a Storage backed by Redis hashes: field "v" holds the
// encoded value, "x" and "r" the expiration and removal deadlines in Unix
// nanoseconds. Each key also carries a native expiry at its earliest
// deadline, so Redis reclaims dead entries by itself.
//
// The caller owns the redis.Client lifecycle; Close does not close it.
type RedisStore[K comparable, V any] struct {
	client *redis.Client
	ctx    context.Context
	cfg    config
	prefix string
	codec  Codec[V]
	logger logger.Logger
}

var _ Storage[string, any] = (*RedisStore[string, any])(nil)

// setAttributesScript updates the deadlines of an existing key only.
var setAttributesScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'x', ARGV[1], 'r', ARGV[2])
if ARGV[3] == '0' then
	redis.call('PERSIST', KEYS[1])
else
	redis.call('PEXPIREAT', KEYS[1], ARGV[3])
end
return 1
`)

// NewRedisStore returns a RedisStore. Keys are namespaced by WithPrefix,
// defaulting to DefaultNamespace, and RemoveAll deletes every key under the
// prefix.
func NewRedisStore[K comparable, V any](ctx context.Context, client *redis.Client, opts ...Option) (*RedisStore[K, V], error) {
	cfg := applyOptions(opts)
	codec, err := resolveCodec[V](cfg, MsgpackCodec[V]{})
	if err != nil {
		return nil, err
	}
	prefix := cfg.prefix
	if prefix == "" {
		prefix = DefaultNamespace
	}
	return &RedisStore[K, V]{
		client: client,
		ctx:    ctx,
		cfg:    cfg,
		prefix: prefix + ":",
		codec:  codec,
		logger: cfg.logger.WithPrefix("[redis]"),
	}, nil
}

func (s *RedisStore[K, V]) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.queryTimeout)
}

func (s *RedisStore[K, V]) redisKey(key K) (string, bool) {
	k, err := encodeKey(key)
	if err != nil {
		s.logger.Error("failed to encode key %v: %s", key, err)
		return "", false
	}
	return s.prefix + k, true
}

func formatDeadline(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseDeadline(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func expireAtMillis(attrs Attributes) string {
	d := attrs.deadline()
	if d.IsZero() {
		return "0"
	}
	return strconv.FormatInt(d.UnixMilli(), 10)
}

func (s *RedisStore[K, V]) Value(key K) (V, bool) {
	var zero V
	k, ok := s.redisKey(key)
	if !ok {
		return zero, false
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	fields, err := s.client.HMGet(qctx, k, "v", "x", "r").Result()
	if err != nil {
		s.logger.Error("failed to read %v: %s", key, err)
		return zero, false
	}
	data, ok := fields[0].(string)
	if !ok {
		return zero, false
	}
	attrs := Attributes{ExpirationDate: parseDeadline(fields[1]), RemovalDate: parseDeadline(fields[2])}
	if attrs.ShouldBeRemoved() {
		return zero, false
	}
	val, err := s.codec.Decode([]byte(data))
	if err != nil {
		s.logger.Error("failed to decode %v: %s", key, err)
		return zero, false
	}
	return val, true
}

func (s *RedisStore[K, V]) SetValue(key K, value V, attrs Attributes) {
	k, ok := s.redisKey(key)
	if !ok {
		return
	}
	data, err := s.codec.Encode(value)
	if err != nil {
		s.logger.Error("failed to encode value for %v: %s", key, err)
		return
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	_, err = s.client.TxPipelined(qctx, func(pipe redis.Pipeliner) error {
		pipe.Del(qctx, k)
		pipe.HSet(qctx, k, "v", data, "x", formatDeadline(attrs.ExpirationDate), "r", formatDeadline(attrs.RemovalDate))
		if d := attrs.deadline(); !d.IsZero() {
			pipe.PExpireAt(qctx, k, d)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to write %v: %s", key, err)
	}
}

func (s *RedisStore[K, V]) RemoveValue(key K) {
	k, ok := s.redisKey(key)
	if !ok {
		return
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	if err := s.client.Del(qctx, k).Err(); err != nil {
		s.logger.Error("failed to delete %v: %s", key, err)
	}
}

func (s *RedisStore[K, V]) Attributes(key K) (Attributes, bool) {
	k, ok := s.redisKey(key)
	if !ok {
		return Attributes{}, false
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	fields, err := s.client.HMGet(qctx, k, "v", "x", "r").Result()
	if err != nil {
		s.logger.Error("failed to read attributes of %v: %s", key, err)
		return Attributes{}, false
	}
	if fields[0] == nil {
		return Attributes{}, false
	}
	return Attributes{ExpirationDate: parseDeadline(fields[1]), RemovalDate: parseDeadline(fields[2])}, true
}

func (s *RedisStore[K, V]) SetAttributes(key K, attrs Attributes) {
	k, ok := s.redisKey(key)
	if !ok {
		return
	}
	qctx, cancel := s.queryCtx()
	defer cancel()
	err := setAttributesScript.Run(qctx, s.client, []string{k},
		formatDeadline(attrs.ExpirationDate), formatDeadline(attrs.RemovalDate), expireAtMillis(attrs),
	).Err()
	if err != nil {
		s.logger.Error("failed to update attributes of %v: %s", key, err)
	}
}

// scan returns every Redis key under the prefix.
func (s *RedisStore[K, V]) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *RedisStore[K, V]) RemoveAll() {
	qctx, cancel := s.queryCtx()
	defer cancel()
	keys, err := s.scan(qctx)
	if err != nil {
		s.logger.Error("failed to list keys: %s", err)
		return
	}
	g, gctx := errgroup.WithContext(qctx)
	g.SetLimit(4)
	for chunk := range chunked(keys, 256) {
		g.Go(func() error {
			return s.client.Del(gctx, chunk...).Err()
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to clear: %s", err)
	}
}

func chunked(keys []string, size int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for len(keys) > 0 {
			n := min(size, len(keys))
			if !yield(keys[:n]) {
				return
			}
			keys = keys[n:]
		}
	}
}

func (s *RedisStore[K, V]) Keys() []K {
	attrs := s.AllAttributes()
	keys := make([]K, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	return keys
}

func (s *RedisStore[K, V]) AllAttributes() map[K]Attributes {
	out := make(map[K]Attributes)
	qctx, cancel := s.queryCtx()
	defer cancel()
	keys, err := s.scan(qctx)
	if err != nil {
		s.logger.Error("failed to list keys: %s", err)
		return out
	}
	if len(keys) == 0 {
		return out
	}
	cmds := make([]*redis.SliceCmd, len(keys))
	// Per-command errors are checked below; a key of another type under
	// the prefix fails its own HMGET without spoiling the rest.
	_, _ = s.client.Pipelined(qctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HMGet(qctx, k, "v", "x", "r")
		}
		return nil
	})
	for i, k := range keys {
		if err := cmds[i].Err(); err != nil {
			s.logger.Debug("skipping %s: %s", k, err)
			continue
		}
		fields := cmds[i].Val()
		if len(fields) != 3 || fields[0] == nil {
			continue
		}
		key, err := decodeKey[K](strings.TrimPrefix(k, s.prefix))
		if err != nil {
			s.logger.Error("failed to decode key %s: %s", k, err)
			continue
		}
		out[key] = Attributes{ExpirationDate: parseDeadline(fields[1]), RemovalDate: parseDeadline(fields[2])}
	}
	return out
}

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (s *RedisStore[K, V]) Close() error {
	return nil
}
