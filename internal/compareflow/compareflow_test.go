package compareflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
)

type scriptedProvider struct {
	replies []string
	calls   int
}

func (s *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ string) (string, error) {
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

func newHandler(t *testing.T, provider llm.Provider, benefits retrieval.BenefitsFetcher) *Handler {
	t.Helper()
	registry, err := promptrunner.LoadEmbedded()
	require.NoError(t, err)
	h, err := New(registry, provider, "gpt-4o", benefits)
	require.NoError(t, err)
	return h
}

func TestHandlePendingOnFirstTurnAsksProduct(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"product": null}`,
		`{"tiers": []}`,
		`{}`,
	}}
	h := newHandler(t, provider, nil)

	sess := session.New("c1", time.Now())
	reply, err := h.Handle(context.Background(), &sess, "compare some plans")
	require.NoError(t, err)
	require.Contains(t, reply, "Travel, Maid, or Car")
	require.Equal(t, session.StatusInProgress, sess.ComparisonStatus)
	require.NotNil(t, sess.ComparisonSlot)
}

func TestHandleCompletesAndClearsSlotWhenReady(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Gold adds emergency medical evacuation on top of Silver's coverage.",
	}}
	h := newHandler(t, provider, nil)

	sess := session.New("c2", time.Now())
	sess.ComparisonSlot = &session.WorkingSlot{Product: catalog.Travel, Tiers: []string{"Gold", "Silver"}}

	reply, err := h.Handle(context.Background(), &sess, "compare gold and silver")
	require.NoError(t, err)
	require.Contains(t, reply, "Gold adds emergency")
	require.Equal(t, session.StatusDone, sess.ComparisonStatus)
	require.Nil(t, sess.ComparisonSlot)
	require.Equal(t, session.CompletedComparison, sess.LastCompleted)
	require.Len(t, sess.ComparisonHistory, 1)
	require.Equal(t, catalog.Travel, sess.ComparisonHistory[0].Product)
}

func TestHandleCarBypassesTierCollection(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"product": "Car"}`,
		"Car insurance has one comprehensive plan covering third-party liability.",
	}}
	h := newHandler(t, provider, nil)

	sess := session.New("c3", time.Now())
	reply, err := h.Handle(context.Background(), &sess, "tell me about car plans")
	require.NoError(t, err)
	require.Contains(t, reply, "Car insurance")
	require.Equal(t, session.StatusDone, sess.ComparisonStatus)
	require.Equal(t, catalog.Car, sess.Product)
}
