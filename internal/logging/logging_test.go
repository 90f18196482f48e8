package logging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l := New("not-a-level")
	require.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestNewHonorsConfiguredLevel(t *testing.T) {
	l := New("debug")
	require.Equal(t, zerolog.DebugLevel, l.GetLevel())
}

func TestFromContextReturnsNopWithoutAttachment(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
}

func TestWithContextRoundTrips(t *testing.T) {
	base := New("info")
	ctx := WithContext(context.Background(), base)
	got := FromContext(ctx)
	require.Equal(t, base.GetLevel(), got.GetLevel())
}
