package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNilPassesThrough(t *testing.T) {
	require.NoError(t, New(Transient, "op", nil))
}

func TestIsMatchesTaggedKind(t *testing.T) {
	err := New(ContentionTimeout, "raclock.Acquire", errors.New("boom"))
	require.True(t, Is(err, ContentionTimeout))
	require.False(t, Is(err, Validation))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), Transient))
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	require.Equal(t, Transient, KindOf(errors.New("plain")))
	require.Equal(t, Validation, KindOf(New(Validation, "", errors.New("bad input"))))
}

func TestUnwrapRecoversUnderlyingCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(Transient, "sessionstore.Get", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesOpWhenPresent(t *testing.T) {
	err := New(Validation, "ingress.parsePayload", errors.New("missing field"))
	require.Contains(t, err.Error(), "ingress.parsePayload")
	require.Contains(t, err.Error(), "validation")
}
