package cache

import "time"

// Attributes describe when an entry stops being visible and when it should
// be physically reclaimed. A zero time means the deadline is unset, so the
// zero Attributes value never expires and is never removed.
type Attributes struct {
	ExpirationDate time.Time `json:"expirationDate,omitzero" msgpack:"x,omitempty"`
	RemovalDate    time.Time `json:"removalDate,omitzero" msgpack:"r,omitempty"`
}

// ExpiresAt returns Attributes expiring at t.
func ExpiresAt(t time.Time) Attributes {
	return Attributes{ExpirationDate: t}
}

// ExpiresIn returns Attributes expiring d from now.
func ExpiresIn(d time.Duration) Attributes {
	return Attributes{ExpirationDate: time.Now().Add(d)}
}

// RemoveAt returns a copy of a with the removal deadline set to t.
func (a Attributes) RemoveAt(t time.Time) Attributes {
	a.RemovalDate = t
	return a
}

// HasExpired reports whether the expiration date is set and has passed.
func (a Attributes) HasExpired() bool {
	return a.HasExpiredAt(time.Now())
}

// HasExpiredAt is HasExpired evaluated at now.
func (a Attributes) HasExpiredAt(now time.Time) bool {
	return !a.ExpirationDate.IsZero() && !now.Before(a.ExpirationDate)
}

// ShouldBeRemoved reports whether the entry is logically dead: expired, or
// past its removal date.
func (a Attributes) ShouldBeRemoved() bool {
	return a.ShouldBeRemovedAt(time.Now())
}

// ShouldBeRemovedAt is ShouldBeRemoved evaluated at now.
func (a Attributes) ShouldBeRemovedAt(now time.Time) bool {
	if a.HasExpiredAt(now) {
		return true
	}
	return !a.RemovalDate.IsZero() && !now.Before(a.RemovalDate)
}

// Equal compares both deadlines by instant, ignoring location and monotonic
// clock readings.
func (a Attributes) Equal(b Attributes) bool {
	return a.ExpirationDate.Equal(b.ExpirationDate) && a.RemovalDate.Equal(b.RemovalDate)
}

// deadline returns the earliest set deadline, or the zero time.
func (a Attributes) deadline() time.Time {
	switch {
	case a.ExpirationDate.IsZero():
		return a.RemovalDate
	case a.RemovalDate.IsZero():
		return a.ExpirationDate
	case a.RemovalDate.Before(a.ExpirationDate):
		return a.RemovalDate
	default:
		return a.ExpirationDate
	}
}
