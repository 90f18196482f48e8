package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCountersWithoutPanic(t *testing.T) {
	require.NotPanics(t, func() {
		New()
	})
}

func TestSessionCacheCountersSatisfyCounterInterface(t *testing.T) {
	m := New()
	// sessionstore.WithMetrics only needs an Inc() method; confirm the
	// concrete prometheus.Counter type provides it without adaptation.
	m.SessionCacheHits.Inc()
	m.SessionCacheMisses.Inc()

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.SessionCacheHits.Inc()
	b.SessionCacheHits.Inc()
}
