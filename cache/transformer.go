package cache

// Transformer converts between two types in both directions. Either
// direction may fail by returning false. The two functions should be exact
// inverses for round-trippable pairs; nothing enforces this.
type Transformer[X, Y any] struct {
	Transform        func(X) (Y, bool)
	ReverseTransform func(Y) (X, bool)
}

// NewTransformer returns a Transformer from a forward and reverse function.
func NewTransformer[X, Y any](transform func(X) (Y, bool), reverse func(Y) (X, bool)) Transformer[X, Y] {
	return Transformer[X, Y]{Transform: transform, ReverseTransform: reverse}
}

// Identity returns a Transformer that passes values through unchanged.
func Identity[X any]() Transformer[X, X] {
	same := func(x X) (X, bool) { return x, true }
	return Transformer[X, X]{Transform: same, ReverseTransform: same}
}

// Reversed returns a Transformer with the two directions swapped.
func (t Transformer[X, Y]) Reversed() Transformer[Y, X] {
	return Transformer[Y, X]{Transform: t.ReverseTransform, ReverseTransform: t.Transform}
}

// CodecTransformer maps values to their encoded bytes and back, which lets a
// typed tier sit in front of a tier storing raw bytes.
func CodecTransformer[V any](codec Codec[V]) Transformer[V, []byte] {
	return Transformer[V, []byte]{
		Transform: func(v V) ([]byte, bool) {
			buf, err := codec.Encode(v)
			return buf, err == nil
		},
		ReverseTransform: func(buf []byte) (V, bool) {
			v, err := codec.Decode(buf)
			return v, err == nil
		},
	}
}
