package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/compareflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/infoflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/recflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/summaryflow"
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

func newRouter(t *testing.T, provider llm.Provider) *Router {
	t.Helper()
	registry, err := promptrunner.LoadEmbedded()
	require.NoError(t, err)

	content := retrieval.NewMemoryVectorStore()
	questions := retrieval.NewMemoryVectorStore()
	lexical := retrieval.NewMemoryLexicalStore()
	store := retrieval.NewHybridStore(retrieval.DeterministicEmbedder{Dim: 32}, content, questions, lexical)

	info, err := infoflow.New(registry, provider, "gpt-4o", store)
	require.NoError(t, err)

	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)
	rec, err := recflow.New(registry, provider, "gpt-4o", nil, loc)
	require.NoError(t, err)

	compare, err := compareflow.New(registry, provider, "gpt-4o", nil)
	require.NoError(t, err)
	summary, err := summaryflow.New(registry, provider, "gpt-4o", nil)
	require.NoError(t, err)

	return New(registry, provider, "gpt-4o", loc, info, rec, compare, summary)
}

func TestHandleGreetRendersTimeAwareGreeting(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"directive": "greet"}`}}
	r := newRouter(t, provider)

	sess := session.New("r1", time.Now())
	loc, _ := time.LoadLocation("Asia/Singapore")
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)

	reply, err := r.Handle(context.Background(), &sess, "hi", now)
	require.NoError(t, err)
	require.Contains(t, reply, "Good morning")
	require.Contains(t, reply, "HLAS Assistant")
}

func TestHandleCapabilities(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"directive": "handle_capabilities"}`}}
	r := newRouter(t, provider)

	sess := session.New("r2", time.Now())
	reply, err := r.Handle(context.Background(), &sess, "what can you do?", time.Now())
	require.NoError(t, err)
	require.Equal(t, capabilitiesReply, reply)
}

func TestHandleOther(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"directive": "handle_other"}`}}
	r := newRouter(t, provider)

	sess := session.New("r3", time.Now())
	reply, err := r.Handle(context.Background(), &sess, "asdkjasd", time.Now())
	require.NoError(t, err)
	require.Equal(t, otherReply, reply)
}

func TestHandleUnrecognizedDirectiveFallsBack(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"directive": "something_else"}`}}
	r := newRouter(t, provider)

	sess := session.New("r4", time.Now())
	reply, err := r.Handle(context.Background(), &sess, "??", time.Now())
	require.NoError(t, err)
	require.Equal(t, "How can I help you further?", reply)
}

func TestHandleRecommendationInProgressBypassesOrchestrator(t *testing.T) {
	// The orchestrator must never be consulted while a recommendation is
	// mid-flow: recflow.Handle runs identifyProduct, extractSlots, then
	// askNextQuestion for the next missing Travel slot (no route_decision
	// call in between).
	provider := &scriptedProvider{replies: []string{
		`{"product": "Travel"}`,
		`{}`,
		`{"question": "Which country will you be travelling to?"}`,
	}}
	r := newRouter(t, provider)

	sess := session.New("r5", time.Now())
	sess.Product = catalog.Travel
	sess.RecommendationStatus = session.StatusInProgress

	reply, err := r.Handle(context.Background(), &sess, "I'm going to Japan", time.Now())
	require.NoError(t, err)
	require.Contains(t, reply, "Which country will you be travelling to")
	require.Equal(t, 3, provider.calls)
}

func TestHandleRecommendationDoneClearsStatusAndFallsThrough(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"directive": "handle_capabilities"}`}}
	r := newRouter(t, provider)

	sess := session.New("r6", time.Now())
	sess.RecommendationStatus = session.StatusDone

	reply, err := r.Handle(context.Background(), &sess, "thanks", time.Now())
	require.NoError(t, err)
	require.Equal(t, capabilitiesReply, reply)
	require.Equal(t, session.StatusNone, sess.RecommendationStatus)
}

func TestHandleComparisonInProgressBypassesOrchestrator(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		// reidentifyForPendingBypass's awaiting-tiers re-check
		`{"product": null}`,
		// tierflow's ensureTiers (still below MinTiers)
		`{"tiers": ["Gold"]}`,
		// tierflow's askClarify for the still-missing second tier
		`{"question": "Which other tier?"}`,
	}}
	r := newRouter(t, provider)

	sess := session.New("r7", time.Now())
	sess.Product = catalog.Travel
	sess.ComparisonStatus = session.StatusInProgress
	sess.ComparisonSlot = &session.WorkingSlot{Product: catalog.Travel}

	reply, err := r.Handle(context.Background(), &sess, "compare gold to something", time.Now())
	require.NoError(t, err)
	require.Contains(t, reply, "Which other tier")
}

func TestHandleFollowUpDelegatesToInfoFlow(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"directive": "handle_follow_up"}`,
		`{"product": "Travel"}`, // router's own identify_product before follow-up construction
		`{"query": "What does the Gold Travel plan cover for medical evacuation?"}`,
		// infoflow's fast path (FollowUpQuery set, product already known) skips its own
		// product identification and goes straight to retrieval; since the in-memory
		// vector store here has nothing indexed, it returns a no-match reply without
		// ever reaching the synthesis call, so no synthesis reply is scripted.
	}}
	r := newRouter(t, provider)

	sess := session.New("r8", time.Now())
	sess.Product = catalog.Travel
	sess.AppendHistory("what plans do you have?", "We offer Travel, Maid, Car, and Personal Accident.", 500, time.Now())

	reply, err := r.Handle(context.Background(), &sess, "what about the gold one?", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	require.Equal(t, "What does the Gold Travel plan cover for medical evacuation?", sess.FollowUpQuery)
}
