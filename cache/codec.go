package cache

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes values for backends that persist bytes.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// JSONCodec stores []byte values verbatim and everything else as a JSON
// array holding exactly one element, so bare scalars are representable.
// Non-finite floats are written as string tokens wherever they are reachable
// through struct fields, pointers, slices, arrays or maps. A non-finite float
// held in an interface value (V = any, map[string]any, an any field) cannot
// be told apart from a string on decode, so encoding it fails.
type JSONCodec[V any] struct{}

var _ Codec[string] = JSONCodec[string]{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	if buf, ok := any(v).([]byte); ok {
		return buf, nil
	}
	tree, err := floatSafe(reflect.ValueOf(&v).Elem(), false)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]any{tree})
}

func (JSONCodec[V]) Decode(buf []byte) (V, error) {
	var v V
	if _, ok := any(v).([]byte); ok {
		return any(append([]byte(nil), buf...)).(V), nil
	}
	var wrapper []json.RawMessage
	if err := json.Unmarshal(buf, &wrapper); err != nil {
		return v, fmt.Errorf("cache: failed to decode payload: %w", err)
	}
	if len(wrapper) != 1 {
		return v, fmt.Errorf("cache: expected a single-element payload, got %d elements", len(wrapper))
	}
	if err := decodeFloatSafe(wrapper[0], reflect.ValueOf(&v).Elem()); err != nil {
		return v, fmt.Errorf("cache: failed to decode value: %w", err)
	}
	return v, nil
}

// MsgpackCodec stores []byte values verbatim and everything else as
// msgpack, which represents scalars and non-finite floats natively.
type MsgpackCodec[V any] struct{}

var _ Codec[string] = MsgpackCodec[string]{}

func (MsgpackCodec[V]) Encode(v V) ([]byte, error) {
	if buf, ok := any(v).([]byte); ok {
		return buf, nil
	}
	return msgpack.Marshal(v)
}

func (MsgpackCodec[V]) Decode(buf []byte) (V, error) {
	var v V
	if _, ok := any(v).([]byte); ok {
		return any(append([]byte(nil), buf...)).(V), nil
	}
	if err := msgpack.Unmarshal(buf, &v); err != nil {
		return v, fmt.Errorf("cache: failed to unmarshal value: %w", err)
	}
	return v, nil
}

// encodeKey renders a key as a string for backends addressed by strings.
func encodeKey[K comparable](key K) (string, error) {
	if s, ok := any(key).(string); ok {
		return s, nil
	}
	buf, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeKey[K comparable](s string) (K, error) {
	var key K
	if _, ok := any(key).(string); ok {
		return any(s).(K), nil
	}
	err := json.Unmarshal([]byte(s), &key)
	return key, err
}
