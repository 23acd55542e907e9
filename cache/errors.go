package cache

import "github.com/cockroachdb/errors"

var (
	// ErrUnusableBackend is returned when a backend cannot obtain the
	// resources it needs at construction time.
	ErrUnusableBackend = errors.New("cache: unusable backend")

	// ErrCodecMismatch is returned when WithCodec was given a codec for a
	// different value type than the backend stores.
	ErrCodecMismatch = errors.New("cache: codec does not match value type")
)

func wrapCodecMismatch(codec any, value any) error {
	return errors.Wrapf(ErrCodecMismatch, "codec %T cannot encode %T", codec, value)
}

func unusable(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrUnusableBackend)
}
