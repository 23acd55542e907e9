package cache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip[V any](t *testing.T, codec Codec[V], v V) V {
	t.Helper()
	buf, err := codec.Encode(v)
	require.NoError(t, err)
	got, err := codec.Decode(buf)
	require.NoError(t, err)
	return got
}

func TestJSONCodecScalars(t *testing.T) {
	assert.Equal(t, "bar", roundTrip[string](t, JSONCodec[string]{}, "bar"))
	assert.Equal(t, 42, roundTrip[int](t, JSONCodec[int]{}, 42))
	assert.Equal(t, true, roundTrip[bool](t, JSONCodec[bool]{}, true))
	assert.Equal(t, 1.5, roundTrip[float64](t, JSONCodec[float64]{}, 1.5))
	assert.Equal(t, float32(0.1), roundTrip[float32](t, JSONCodec[float32]{}, 0.1))
}

func TestJSONCodecWrapsInSingleElementArray(t *testing.T) {
	buf, err := JSONCodec[string]{}.Encode("bar")
	require.NoError(t, err)
	assert.Equal(t, `["bar"]`, string(buf))

	_, err = JSONCodec[string]{}.Decode([]byte(`["a","b"]`))
	assert.Error(t, err)
	_, err = JSONCodec[string]{}.Decode([]byte(`"bare"`))
	assert.Error(t, err)
}

func TestJSONCodecBytesPassThrough(t *testing.T) {
	raw := []byte{0x00, 0xff, 'x'}
	buf, err := JSONCodec[[]byte]{}.Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, buf)
	assert.Equal(t, raw, roundTrip[[]byte](t, JSONCodec[[]byte]{}, raw))
}

func TestJSONCodecNonFiniteFloats(t *testing.T) {
	codec := JSONCodec[float64]{}

	buf, err := codec.Encode(math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, `["+Infinity"]`, string(buf))

	assert.True(t, math.IsInf(roundTrip[float64](t, codec, math.Inf(1)), 1))
	assert.True(t, math.IsInf(roundTrip[float64](t, codec, math.Inf(-1)), -1))
	assert.True(t, math.IsNaN(roundTrip[float64](t, codec, math.NaN())))
	assert.True(t, math.IsNaN(float64(roundTrip[float32](t, JSONCodec[float32]{}, float32(math.NaN())))))
}

func TestJSONCodecNonFiniteFloatsInContainers(t *testing.T) {
	list := roundTrip[[]float64](t, JSONCodec[[]float64]{}, []float64{1, math.Inf(-1), math.NaN()})
	require.Len(t, list, 3)
	assert.Equal(t, 1.0, list[0])
	assert.True(t, math.IsInf(list[1], -1))
	assert.True(t, math.IsNaN(list[2]))

	m := roundTrip[map[string]float64](t, JSONCodec[map[string]float64]{}, map[string]float64{"up": math.Inf(1), "one": 1})
	assert.True(t, math.IsInf(m["up"], 1))
	assert.Equal(t, 1.0, m["one"])

	f := math.NaN()
	p := roundTrip[*float64](t, JSONCodec[*float64]{}, &f)
	require.NotNil(t, p)
	assert.True(t, math.IsNaN(*p))

	arr := roundTrip[[2]float64](t, JSONCodec[[2]float64]{}, [2]float64{math.Inf(1), 2})
	assert.True(t, math.IsInf(arr[0], 1))
	assert.Equal(t, 2.0, arr[1])

	assert.Nil(t, roundTrip[[]float64](t, JSONCodec[[]float64]{}, nil))
	assert.Nil(t, roundTrip[*float64](t, JSONCodec[*float64]{}, nil))
}

type reading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
	Scale  float32
}

func TestJSONCodecNonFiniteFloatsInStructs(t *testing.T) {
	codec := JSONCodec[reading]{}
	buf, err := codec.Encode(reading{Sensor: "a", Value: math.Inf(1), Scale: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"sensor":"a","value":"+Infinity","Scale":2}]`, string(buf))

	got := roundTrip[reading](t, codec, reading{Sensor: "a", Value: math.Inf(1), Scale: float32(math.NaN())})
	assert.Equal(t, "a", got.Sensor)
	assert.True(t, math.IsInf(got.Value, 1))
	assert.True(t, math.IsNaN(float64(got.Scale)))

	list := roundTrip[[]reading](t, JSONCodec[[]reading]{}, []reading{
		{Sensor: "x", Value: math.Inf(-1)},
		{Sensor: "y", Value: math.NaN()},
		{Sensor: "z", Value: 3},
	})
	require.Len(t, list, 3)
	assert.True(t, math.IsInf(list[0].Value, -1))
	assert.True(t, math.IsNaN(list[1].Value))
	assert.Equal(t, reading{Sensor: "z", Value: 3}, list[2])

	p := roundTrip[*reading](t, JSONCodec[*reading]{}, &reading{Value: math.Inf(-1)})
	require.NotNil(t, p)
	assert.True(t, math.IsInf(p.Value, -1))
}

func TestJSONCodecStructTags(t *testing.T) {
	type Base struct {
		Min float64 `json:"min"`
		ID  string  `json:"id"`
	}
	type Extra struct {
		Max float64
	}
	type series struct {
		Base
		*Extra
		ID       int       `json:"id"`
		Skipped  float64   `json:"-"`
		Empty    []string  `json:"empty,omitempty"`
		When     time.Time `json:"when,omitzero"`
		Quoted   float64   `json:"quoted,string"`
		Count    int       `json:"count,string"`
		internal float64
	}

	codec := JSONCodec[series]{}
	in := series{
		Base:     Base{Min: math.Inf(-1), ID: "shadowed"},
		Extra:    &Extra{Max: math.Inf(1)},
		ID:       7,
		Skipped:  math.NaN(),
		Quoted:   math.NaN(),
		Count:    3,
		internal: 1,
	}
	buf, err := codec.Encode(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"min":"-Infinity","Max":"+Infinity","id":7,"quoted":"NaN","count":"3"}]`, string(buf))

	out, err := codec.Decode(buf)
	require.NoError(t, err)
	assert.True(t, math.IsInf(out.Min, -1))
	assert.Empty(t, out.Base.ID)
	require.NotNil(t, out.Extra)
	assert.True(t, math.IsInf(out.Max, 1))
	assert.Equal(t, 7, out.ID)
	assert.Zero(t, out.Skipped)
	assert.Nil(t, out.Empty)
	assert.True(t, out.When.IsZero())
	assert.True(t, math.IsNaN(out.Quoted))
	assert.Equal(t, 3, out.Count)
	assert.Zero(t, out.internal)

	// A nil embedded pointer contributes no fields and stays nil.
	out = roundTrip[series](t, codec, series{Quoted: 1.5})
	assert.Nil(t, out.Extra)
	assert.Equal(t, 1.5, out.Quoted)
}

func TestJSONCodecIntegerKeyedMaps(t *testing.T) {
	m := roundTrip[map[int]float64](t, JSONCodec[map[int]float64]{}, map[int]float64{-1: math.Inf(1), 2: 0.5})
	assert.True(t, math.IsInf(m[-1], 1))
	assert.Equal(t, 0.5, m[2])

	_, err := JSONCodec[map[uint8]float64]{}.Decode([]byte(`[{"300":1}]`))
	assert.Error(t, err)
}

func TestJSONCodecRejectsNonFiniteInInterfaces(t *testing.T) {
	_, err := JSONCodec[any]{}.Encode(math.NaN())
	assert.Error(t, err)
	_, err = JSONCodec[map[string]any]{}.Encode(map[string]any{"v": math.Inf(-1)})
	assert.Error(t, err)
	type tagged struct {
		Meta any `json:"meta"`
	}
	_, err = JSONCodec[tagged]{}.Encode(tagged{Meta: []float64{math.Inf(1)}})
	assert.Error(t, err)

	// Finite values and token-like strings held in interfaces are fine.
	m := roundTrip[map[string]any](t, JSONCodec[map[string]any]{}, map[string]any{"v": 1.5, "s": "NaN"})
	assert.Equal(t, 1.5, m["v"])
	assert.Equal(t, "NaN", m["s"])
	assert.Equal(t, "NaN", roundTrip[any](t, JSONCodec[any]{}, "NaN"))
}

func TestJSONCodecStructsAndMarshalers(t *testing.T) {
	type user struct {
		Name  string   `json:"name"`
		Tags  []string `json:"tags"`
		Score float64  `json:"score"`
	}
	u := user{Name: "alice", Tags: []string{"a", "b"}, Score: 9.5}
	assert.Equal(t, u, roundTrip[user](t, JSONCodec[user]{}, u))

	ts := time.Unix(1700000000, 0).UTC()
	assert.True(t, ts.Equal(roundTrip[time.Time](t, JSONCodec[time.Time]{}, ts)))

	users := []user{u, {Name: "bob"}}
	assert.Equal(t, users, roundTrip[[]user](t, JSONCodec[[]user]{}, users))
}

func TestJSONCodecRejectsUnencodable(t *testing.T) {
	_, err := JSONCodec[func()]{}.Encode(func() {})
	assert.Error(t, err)
	_, err = JSONCodec[chan int]{}.Encode(make(chan int))
	assert.Error(t, err)
}

func TestMsgpackCodec(t *testing.T) {
	assert.Equal(t, "bar", roundTrip[string](t, MsgpackCodec[string]{}, "bar"))
	assert.True(t, math.IsNaN(roundTrip[float64](t, MsgpackCodec[float64]{}, math.NaN())))
	assert.True(t, math.IsInf(roundTrip[float64](t, MsgpackCodec[float64]{}, math.Inf(-1)), -1))
	raw := []byte("raw")
	assert.Equal(t, raw, roundTrip[[]byte](t, MsgpackCodec[[]byte]{}, raw))

	type person struct {
		Name string `msgpack:"name"`
		Age  int    `msgpack:"age"`
	}
	p := person{Name: "Alice", Age: 30}
	assert.Equal(t, p, roundTrip[person](t, MsgpackCodec[person]{}, p))
}

func TestKeyEncoding(t *testing.T) {
	k, err := encodeKey("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", k)

	k, err = encodeKey(42)
	require.NoError(t, err)
	i, err := decodeKey[int](k)
	require.NoError(t, err)
	assert.Equal(t, 42, i)

	type composite struct {
		A string
		B int
	}
	k, err = encodeKey(composite{"x", 1})
	require.NoError(t, err)
	c, err := decodeKey[composite](k)
	require.NoError(t, err)
	assert.Equal(t, composite{"x", 1}, c)
}
