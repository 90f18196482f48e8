package greeting

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderSalutationVariesByHour(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	morning := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)
	afternoon := time.Date(2026, 1, 1, 14, 0, 0, 0, loc)
	evening := time.Date(2026, 1, 1, 20, 0, 0, 0, loc)

	require.True(t, strings.HasPrefix(Render("s1", morning, loc), "Good morning"))
	require.True(t, strings.HasPrefix(Render("s1", afternoon, loc), "Good afternoon"))
	require.True(t, strings.HasPrefix(Render("s1", evening, loc), "Good evening"))
}

func TestRenderFallsBackToHelloWithoutLocation(t *testing.T) {
	require.True(t, strings.HasPrefix(Render("s1", time.Now(), nil), "Hello"))
}

func TestRenderIsOneOfThreeTemplates(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		now = now.Add(time.Second)
		reply := Render("session-a", now, loc)
		seen[reply] = true
	}
	require.Len(t, seen, 3)
}

func TestRenderDifferentSessionsCanDiffer(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)

	a := Render("session-a", now, loc)
	b := Render("session-xyz", now, loc)
	// Not asserting inequality (hash collisions are legal), only that both
	// are well-formed greetings sharing the same salutation.
	require.True(t, strings.HasPrefix(a, "Good morning"))
	require.True(t, strings.HasPrefix(b, "Good morning"))
}
