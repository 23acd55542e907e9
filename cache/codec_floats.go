package cache

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Tokens used in place of non-finite floats, which JSON cannot represent.
const (
	positiveInfinity = "+Infinity"
	negativeInfinity = "-Infinity"
	notANumber       = "NaN"
)

func nonFiniteToken(f float64) (string, bool) {
	switch {
	case math.IsInf(f, 1):
		return positiveInfinity, true
	case math.IsInf(f, -1):
		return negativeInfinity, true
	case math.IsNaN(f):
		return notANumber, true
	}
	return "", false
}

func parseNonFinite(token string) (float64, bool) {
	switch token {
	case positiveInfinity:
		return math.Inf(1), true
	case negativeInfinity:
		return math.Inf(-1), true
	case notANumber:
		return math.NaN(), true
	}
	return 0, false
}

// floatToken returns the token for a non-finite f. Below an interface the
// token would decode as a string, so it is refused there.
func floatToken(f float64, dynamic bool) (any, bool, error) {
	token, ok := nonFiniteToken(f)
	if !ok {
		return nil, false, nil
	}
	if dynamic {
		return nil, true, fmt.Errorf("cache: cannot encode %s held in an interface value", token)
	}
	return token, true, nil
}

var (
	jsonMarshalerType   = reflect.TypeFor[json.Marshaler]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	jsonUnmarshalerType = reflect.TypeFor[json.Unmarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// marshalerOf returns the value encoding/json would call MarshalJSON or
// MarshalText on, if rv has such a method.
func marshalerOf(rv reflect.Value) (any, bool) {
	t := rv.Type()
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		return rv.Interface(), true
	}
	if rv.CanAddr() {
		pt := reflect.PointerTo(t)
		if pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType) {
			return rv.Addr().Interface(), true
		}
	}
	return nil, false
}

func customUnmarshaler(rv reflect.Value) bool {
	pt := reflect.PointerTo(rv.Type())
	return pt.Implements(jsonUnmarshalerType) || pt.Implements(textUnmarshalerType)
}

// floatSafe rewrites rv into a tree encoding/json can marshal, replacing
// non-finite floats with their tokens. dynamic is set below an interface
// value.
func floatSafe(rv reflect.Value, dynamic bool) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() != reflect.Interface {
		if m, ok := marshalerOf(rv); ok {
			return m, nil
		}
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		token, ok, err := floatToken(rv.Float(), dynamic)
		if !ok {
			return rv.Interface(), nil
		}
		return token, err
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return floatSafe(rv.Elem(), dynamic || rv.Kind() == reflect.Interface)
	case reflect.Struct:
		return floatSafeStruct(rv, dynamic)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface(), nil
		}
		return floatSafeList(rv, dynamic)
	case reflect.Array:
		return floatSafeList(rv, dynamic)
	case reflect.Map:
		return floatSafeMap(rv, dynamic)
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, fmt.Errorf("cache: cannot encode value of type %s", rv.Type())
	default:
		return rv.Interface(), nil
	}
}

func floatSafeList(rv reflect.Value, dynamic bool) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		item, err := floatSafe(rv.Index(i), dynamic)
		if err != nil {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}

func floatSafeMap(rv reflect.Value, dynamic bool) (any, error) {
	if !textKey(rv.Type().Key()) {
		return rv.Interface(), nil
	}
	if rv.IsNil() {
		return nil, nil
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := formatMapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		item, err := floatSafe(iter.Value(), dynamic)
		if err != nil {
			return nil, err
		}
		out[key] = item
	}
	return out, nil
}

func floatSafeStruct(rv reflect.Value, dynamic bool) (any, error) {
	fields, ok := jsonFields(rv.Type())
	if !ok {
		return rv.Interface(), nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(rv, f.index)
		if !ok || (f.omitEmpty && isEmptyValue(fv)) || (f.omitZero && isZeroValue(fv)) {
			continue
		}
		var (
			item any
			err  error
		)
		if f.quoted {
			item, err = quotedValue(fv, dynamic)
		} else {
			item, err = floatSafe(fv, dynamic)
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		out[f.name] = item
	}
	return out, nil
}

// quotedValue encodes a field tagged ",string": the JSON text of the value,
// itself as a string.
func quotedValue(rv reflect.Value, dynamic bool) (any, error) {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if k := rv.Kind(); k == reflect.Float32 || k == reflect.Float64 {
		if token, ok, err := floatToken(rv.Float(), dynamic); ok {
			return token, err
		}
	}
	buf, err := json.Marshal(rv.Interface())
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// decodeFloatSafe is the inverse of floatSafe. rv must be settable.
func decodeFloatSafe(raw json.RawMessage, rv reflect.Value) error {
	if rv.Kind() != reflect.Interface && customUnmarshaler(rv) {
		return json.Unmarshal(raw, rv.Addr().Interface())
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		var token string
		if err := json.Unmarshal(raw, &token); err == nil {
			f, ok := parseNonFinite(token)
			if !ok {
				return fmt.Errorf("unexpected float token %q", token)
			}
			rv.SetFloat(f)
			return nil
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		rv.SetFloat(f)
		return nil
	case reflect.Pointer:
		if isNull(raw) {
			rv.SetZero()
			return nil
		}
		ptr := reflect.New(rv.Type().Elem())
		if err := decodeFloatSafe(raw, ptr.Elem()); err != nil {
			return err
		}
		rv.Set(ptr)
		return nil
	case reflect.Struct:
		return decodeStruct(raw, rv)
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		if isNull(raw) {
			rv.SetZero()
			return nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		list := reflect.MakeSlice(rv.Type(), len(items), len(items))
		for i, item := range items {
			if err := decodeFloatSafe(item, list.Index(i)); err != nil {
				return err
			}
		}
		rv.Set(list)
		return nil
	case reflect.Array:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		for i := 0; i < len(items) && i < rv.Len(); i++ {
			if err := decodeFloatSafe(items[i], rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if !textKey(rv.Type().Key()) {
			break
		}
		if isNull(raw) {
			rv.SetZero()
			return nil
		}
		var items map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		m := reflect.MakeMapWithSize(rv.Type(), len(items))
		for k, item := range items {
			key, err := parseMapKey(k, rv.Type().Key())
			if err != nil {
				return err
			}
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := decodeFloatSafe(item, elem); err != nil {
				return err
			}
			m.SetMapIndex(key, elem)
		}
		rv.Set(m)
		return nil
	}
	return json.Unmarshal(raw, rv.Addr().Interface())
}

func decodeStruct(raw json.RawMessage, rv reflect.Value) error {
	fields, ok := jsonFields(rv.Type())
	if !ok {
		return json.Unmarshal(raw, rv.Addr().Interface())
	}
	if isNull(raw) {
		return nil
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	for key, item := range items {
		f, ok := matchField(fields, key)
		if !ok {
			continue
		}
		fv, ok := settableField(rv, f.index)
		if !ok {
			continue
		}
		var err error
		if f.quoted {
			err = decodeQuoted(item, fv)
		} else {
			err = decodeFloatSafe(item, fv)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return nil
}

func decodeQuoted(raw json.RawMessage, rv reflect.Value) error {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	if k := rv.Kind(); k == reflect.Float32 || k == reflect.Float64 {
		if f, ok := parseNonFinite(s); ok {
			rv.SetFloat(f)
			return nil
		}
	}
	return json.Unmarshal([]byte(s), rv.Addr().Interface())
}

// textKey reports whether map keys of type t are written as JSON object
// names.
func textKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerType)
}

func formatMapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", nil
		}
		buf, err := tm.MarshalText()
		return string(buf), err
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("cache: unsupported map key type %s", k.Type())
}

func parseMapKey(s string, t reflect.Type) (reflect.Value, error) {
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		kv := reflect.New(t)
		if err := kv.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return reflect.Value{}, err
		}
		return kv.Elem(), nil
	}
	kv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		kv.SetString(s)
		return kv, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || kv.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("cache: invalid map key %q for %s", s, t)
		}
		kv.SetInt(n)
		return kv, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || kv.OverflowUint(n) {
			return reflect.Value{}, fmt.Errorf("cache: invalid map key %q for %s", s, t)
		}
		kv.SetUint(n)
		return kv, nil
	}
	return reflect.Value{}, fmt.Errorf("cache: unsupported map key type %s", t)
}

// jsonField is one struct field as encoding/json names it.
type jsonField struct {
	name      string
	index     []int
	tagged    bool
	omitEmpty bool
	omitZero  bool
	quoted    bool
}

type structFields struct {
	fields []jsonField
	ok     bool
}

var structFieldCache sync.Map // map[reflect.Type]structFields

// jsonFields lists the fields encoding/json emits for the struct type t,
// following its tag, embedding and dominance rules. ok is false when t
// promotes fields through an unexported embedded struct, which reflection
// cannot set; such types are handed to encoding/json whole.
func jsonFields(t reflect.Type) ([]jsonField, bool) {
	if cached, ok := structFieldCache.Load(t); ok {
		sf := cached.(structFields)
		return sf.fields, sf.ok
	}
	fields, ok := collectFields(t)
	structFieldCache.Store(t, structFields{fields: fields, ok: ok})
	return fields, ok
}

func collectFields(t reflect.Type) ([]jsonField, bool) {
	var (
		all  []jsonField
		ok   = true
		path = make(map[reflect.Type]bool)
		walk func(t reflect.Type, index []int)
	)
	walk = func(t reflect.Type, index []int) {
		if path[t] {
			return
		}
		path[t] = true
		defer delete(path, t)
		for i := range t.NumField() {
			sf := t.Field(i)
			tag := sf.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			idx := append(slices.Clone(index), i)
			ft := sf.Type
			if ft.Name() == "" && ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if sf.Anonymous {
				if !sf.IsExported() {
					if ft.Kind() == reflect.Struct {
						ok = false
					}
					continue
				}
				if name == "" && ft.Kind() == reflect.Struct {
					walk(ft, idx)
					continue
				}
			} else if !sf.IsExported() {
				continue
			}
			f := jsonField{name: name, index: idx, tagged: name != ""}
			if name == "" {
				f.name = sf.Name
			}
			for _, opt := range strings.Split(opts, ",") {
				switch opt {
				case "omitempty":
					f.omitEmpty = true
				case "omitzero":
					f.omitZero = true
				case "string":
					switch ft.Kind() {
					case reflect.Bool, reflect.String, reflect.Float32, reflect.Float64,
						reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
						reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
						f.quoted = true
					}
				}
			}
			all = append(all, f)
		}
	}
	walk(t, nil)
	if !ok {
		return nil, false
	}

	// A name shared by several fields goes to the shallowest one, then to
	// the only tagged one at that depth; otherwise it is dropped.
	byName := make(map[string][]jsonField)
	var names []string
	for _, f := range all {
		if _, seen := byName[f.name]; !seen {
			names = append(names, f.name)
		}
		byName[f.name] = append(byName[f.name], f)
	}
	fields := make([]jsonField, 0, len(names))
	for _, name := range names {
		if f, ok := dominantField(byName[name]); ok {
			fields = append(fields, f)
		}
	}
	return fields, true
}

func dominantField(candidates []jsonField) (jsonField, bool) {
	depth := len(candidates[0].index)
	for _, f := range candidates[1:] {
		depth = min(depth, len(f.index))
	}
	var shallow, tagged []jsonField
	for _, f := range candidates {
		if len(f.index) != depth {
			continue
		}
		shallow = append(shallow, f)
		if f.tagged {
			tagged = append(tagged, f)
		}
	}
	switch {
	case len(shallow) == 1:
		return shallow[0], true
	case len(tagged) == 1:
		return tagged[0], true
	}
	return jsonField{}, false
}

func matchField(fields []jsonField, key string) (jsonField, bool) {
	for _, f := range fields {
		if f.name == key {
			return f, true
		}
	}
	for _, f := range fields {
		if strings.EqualFold(f.name, key) {
			return f, true
		}
	}
	return jsonField{}, false
}

// fieldByIndex walks index through embedded structs. It reports false when
// an embedded pointer on the way is nil.
func fieldByIndex(rv reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return reflect.Value{}, false
			}
			rv = rv.Elem()
		}
		rv = rv.Field(x)
	}
	return rv, true
}

// settableField is fieldByIndex for decoding: nil embedded pointers are
// allocated on the way.
func settableField(rv reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				if !rv.CanSet() {
					return reflect.Value{}, false
				}
				rv.Set(reflect.New(rv.Type().Elem()))
			}
			rv = rv.Elem()
		}
		rv = rv.Field(x)
	}
	return rv, rv.CanSet()
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

func isZeroValue(v reflect.Value) bool {
	type zeroer interface{ IsZero() bool }
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
		return true
	}
	if z, ok := v.Interface().(zeroer); ok {
		return z.IsZero()
	}
	if v.CanAddr() {
		if z, ok := v.Addr().Interface().(zeroer); ok {
			return z.IsZero()
		}
	}
	return v.IsZero()
}
