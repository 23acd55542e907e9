package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttributesPredicates(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		attrs   Attributes
		expired bool
		remove  bool
	}{
		{name: "default", attrs: Attributes{}},
		{name: "future expiration", attrs: ExpiresAt(now.Add(time.Minute))},
		{name: "past expiration", attrs: ExpiresAt(now.Add(-time.Minute)), expired: true, remove: true},
		{name: "expiration is now", attrs: ExpiresAt(now), expired: true, remove: true},
		{name: "past removal", attrs: Attributes{}.RemoveAt(now.Add(-time.Second)), remove: true},
		{name: "future removal", attrs: ExpiresAt(now.Add(time.Hour)).RemoveAt(now.Add(time.Minute))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.attrs.HasExpiredAt(now))
			assert.Equal(t, tt.remove, tt.attrs.ShouldBeRemovedAt(now))
		})
	}
}

func TestAttributesEqualIgnoresMonotonicClock(t *testing.T) {
	now := time.Now()
	stripped := now.Round(0)
	assert.True(t, ExpiresAt(now).Equal(ExpiresAt(stripped)))
	assert.False(t, ExpiresAt(now).Equal(ExpiresAt(now.Add(time.Nanosecond))))
	assert.False(t, ExpiresAt(now).Equal(Attributes{}))
}

func TestAttributesDeadline(t *testing.T) {
	now := time.Now()
	assert.True(t, Attributes{}.deadline().IsZero())
	assert.Equal(t, now, ExpiresAt(now).deadline())
	assert.Equal(t, now, Attributes{}.RemoveAt(now).deadline())
	assert.Equal(t, now, ExpiresAt(now.Add(time.Hour)).RemoveAt(now).deadline())
	assert.Equal(t, now, ExpiresAt(now).RemoveAt(now.Add(time.Hour)).deadline())
}

func TestIdentityTransformer(t *testing.T) {
	id := Identity[string]()
	v, ok := id.Transform("foo")
	assert.True(t, ok)
	assert.Equal(t, "foo", v)
	v, ok = id.Reversed().ReverseTransform("bar")
	assert.True(t, ok)
	assert.Equal(t, "bar", v)
}

func TestReversedTransformer(t *testing.T) {
	itoa := NewTransformer(
		func(i int) (string, bool) { return strconv.Itoa(i), true },
		func(s string) (int, bool) {
			i, err := strconv.Atoi(s)
			return i, err == nil
		},
	)
	atoi := itoa.Reversed()

	i, ok := atoi.Transform("42")
	assert.True(t, ok)
	assert.Equal(t, 42, i)

	_, ok = atoi.Transform("forty-two")
	assert.False(t, ok)

	s, ok := atoi.ReverseTransform(7)
	assert.True(t, ok)
	assert.Equal(t, "7", s)
}

func TestCodecTransformer(t *testing.T) {
	type point struct {
		X, Y int
	}
	tr := CodecTransformer[point](JSONCodec[point]{})
	buf, ok := tr.Transform(point{1, 2})
	assert.True(t, ok)
	p, ok := tr.ReverseTransform(buf)
	assert.True(t, ok)
	assert.Equal(t, point{1, 2}, p)

	_, ok = tr.ReverseTransform([]byte("not json"))
	assert.False(t, ok)
}
