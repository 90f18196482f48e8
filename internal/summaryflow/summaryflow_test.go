package summaryflow

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

func TestHandleAsksForSingleTierWhenNoneKnown(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"tiers": []}`,
		`{"question": "Which Travel tier should I summarize?"}`,
	}}
	h := newHandler(t, provider, nil)

	sess := session.New("s1", time.Now())
	sess.SummarySlot = &session.WorkingSlot{Product: catalog.Travel}

	reply, err := h.Handle(context.Background(), &sess, "summarize travel")
	require.NoError(t, err)
	require.Contains(t, reply, "Which Travel tier")
	require.Equal(t, session.StatusInProgress, sess.SummaryStatus)
}

func TestHandleCompletesWithSingleTier(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Gold covers trip cancellation, medical evacuation, and baggage loss.",
	}}
	h := newHandler(t, provider, nil)

	sess := session.New("s2", time.Now())
	sess.SummarySlot = &session.WorkingSlot{Product: catalog.Travel, Tiers: []string{"Gold"}}

	reply, err := h.Handle(context.Background(), &sess, "summarize gold")
	require.NoError(t, err)
	require.Contains(t, reply, "Gold covers")
	require.Equal(t, session.StatusDone, sess.SummaryStatus)
	require.Nil(t, sess.SummarySlot)
	require.Equal(t, session.CompletedSummary, sess.LastCompleted)
	require.Len(t, sess.SummaryHistory, 1)
}

func TestHandleCarBypassesTierCollection(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"product": "Car"}`,
		"Car insurance covers third-party liability and windscreen damage.",
	}}
	h := newHandler(t, provider, nil)

	sess := session.New("s3", time.Now())
	reply, err := h.Handle(context.Background(), &sess, "summarize car insurance")
	require.NoError(t, err)
	require.Contains(t, reply, "Car insurance")
	require.Equal(t, session.StatusDone, sess.SummaryStatus)
	require.Equal(t, catalog.Car, sess.Product)
}
