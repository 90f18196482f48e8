// Package router implements the top-level turn dispatcher, grounded on
// original_source/hlas/src/hlas/flow.py's HlasFlow.decide — the single
// @router(ingest) method that is the entire orchestration entry point for
// the original CrewAI flow. RecFlowHelper's own "simplified state machine"
// is the one ported for recommendation handling (see internal/recflow and
// the Open Question decision recorded in DESIGN.md); this package keeps
// only decide's dispatch shape, not its inline recommendation branch.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/compareflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/greeting"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/infoflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/recflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/summaryflow"
)

// Directive is the closed set of eight orchestrator decisions, grounded on
// flow.py::decide's directive string literals.
type Directive string

const (
	DirectiveGreet          Directive = "greet"
	DirectiveCapabilities   Directive = "handle_capabilities"
	DirectiveInformation    Directive = "handle_information"
	DirectiveFollowUp       Directive = "handle_follow_up"
	DirectiveSummary        Directive = "handle_summary"
	DirectiveComparison     Directive = "plan_only_comparison"
	DirectiveRecommendation Directive = "handle_recommendation"
	DirectiveOther          Directive = "handle_other"
)

const capabilitiesReply = "I can help you with insurance plans, providing information, summaries, and comparisons."

const otherReply = "I can't understand this. Can you clearly tell what you want to do?\n" +
	"I can help you with insurance plans, questions, comparisons, and summaries."

const recommendationUnavailableReply = "I'm sorry, the recommendation service is temporarily unavailable. Please try again later."

// Router dispatches one turn to the sub-flow the orchestrator (or a
// mid-flow bypass) selects.
type Router struct {
	registry *promptrunner.Registry
	provider llm.Provider
	model    string
	loc      *time.Location

	info    *infoflow.Handler
	rec     *recflow.Handler
	compare *compareflow.Handler
	summary *summaryflow.Handler
}

// New builds a Router from its already-constructed sub-flow handlers.
func New(registry *promptrunner.Registry, provider llm.Provider, model string, loc *time.Location, info *infoflow.Handler, rec *recflow.Handler, compare *compareflow.Handler, summary *summaryflow.Handler) *Router {
	if loc == nil {
		loc = time.UTC
	}
	return &Router{
		registry: registry, provider: provider, model: model, loc: loc,
		info: info, rec: rec, compare: compare, summary: summary,
	}
}

// Handle advances one conversational turn for sess, mutating it in place
// and returning the reply text, mirroring HlasFlow.decide's control flow
// turn for turn, including its documented redundancies (the recommendation
// "done" clear-and-fallthrough that's likely unreachable given recflow's
// own internal done-check, and the double product identification in the
// compare/summary mid-flow bypasses) which are preserved rather than
// simplified away.
func (r *Router) Handle(ctx context.Context, sess *session.Session, message string, now time.Time) (string, error) {
	if sess.RecommendationStatus == session.StatusInProgress {
		if r.rec != nil {
			result, err := r.rec.Handle(ctx, sess, message)
			if err != nil {
				return "", err
			}
			return result.Reply, nil
		}
		sess.RecommendationStatus = session.StatusNone
	} else if sess.RecommendationStatus == session.StatusDone {
		sess.RecommendationStatus = session.StatusNone
	}

	if sess.ComparisonStatus == session.StatusDone {
		sess.ComparisonStatus = session.StatusNone
	}
	if sess.SummaryStatus == session.StatusDone {
		sess.SummaryStatus = session.StatusNone
	}

	// Status flags are authoritative; comparison/summary mid-flow bypass is
	// never reconstructed from sess.LastQuestion (a legacy recovery path the
	// rewrite does not carry — see DESIGN.md's Open Question decisions).
	if sess.ComparisonStatus == session.StatusInProgress {
		reply, askedClarification, err := r.reidentifyForPendingBypass(ctx, sess, message)
		if err != nil {
			return "", err
		}
		if askedClarification {
			return reply, nil
		}
		return r.compare.Handle(ctx, sess, message)
	}

	if sess.SummaryStatus == session.StatusInProgress {
		if err := r.reidentifyForSummaryBypass(ctx, sess, message); err != nil {
			return "", err
		}
		return r.summary.Handle(ctx, sess, message)
	}

	directive, err := r.routeDecision(ctx, sess, message)
	if err != nil {
		return "", err
	}

	switch directive {
	case DirectiveGreet:
		return greeting.Render(sess.SessionID, now, r.loc), nil

	case DirectiveCapabilities:
		return capabilitiesReply, nil

	case DirectiveInformation:
		result, err := r.info.Handle(ctx, sess, message, false)
		if err != nil {
			return "", err
		}
		return result.Reply, nil

	case DirectiveFollowUp:
		return r.handleFollowUp(ctx, sess, message)

	case DirectiveSummary:
		return r.summary.Handle(ctx, sess, message)

	case DirectiveComparison:
		return r.compare.Handle(ctx, sess, message)

	case DirectiveRecommendation:
		if r.rec == nil {
			return recommendationUnavailableReply, nil
		}
		result, err := r.rec.Handle(ctx, sess, message)
		if err != nil {
			return "", err
		}
		return result.Reply, nil

	case DirectiveOther:
		return otherReply, nil

	default:
		return "How can I help you further?", nil
	}
}

// reidentifyForPendingBypass ports decide's compare_pending branch: a
// second, router-level product identification that runs before
// CompareFlowHelper.handle ever gets a turn, genuinely redundant with
// compareflow's own internal ensureProduct but preserved faithfully. When
// it returns askedClarification true, the turn ends here with reply as
// the clarifying question, mirroring decide's early "return __done__".
func (r *Router) reidentifyForPendingBypass(ctx context.Context, sess *session.Session, message string) (reply string, askedClarification bool, err error) {
	current := sess.Product
	awaitingProduct := current == ""

	if awaitingProduct {
		product, clarify, err := r.identifyProduct(ctx, message, current)
		if err != nil {
			return "", false, err
		}
		if product != "" && product != current {
			sess.Product = product
			return "", false, nil
		}
		if product == "" && clarify != "" {
			sess.LastQuestion = clarify
			return clarify, true, nil
		}
		return "", false, nil
	}

	// Awaiting tiers: keep the session product, but re-check in case the
	// clarification reply itself names a different product.
	sess.Product = current
	product, _, err := r.identifyProduct(ctx, message, current)
	if err != nil {
		return "", false, err
	}
	if product != "" && product != current {
		sess.Product = product
		if sess.ComparisonSlot != nil {
			sess.ComparisonSlot.Product = product
		}
	}
	return "", false, nil
}

// reidentifyForSummaryBypass mirrors decide's summary_pending branch,
// which is structurally identical to the compare one except it never
// performs the second mid-tier-collection re-check (only compare does).
func (r *Router) reidentifyForSummaryBypass(ctx context.Context, sess *session.Session, message string) error {
	current := sess.Product
	if current == "" {
		product, _, err := r.identifyProduct(ctx, message, current)
		if err != nil {
			return err
		}
		if product != "" && product != current {
			sess.Product = product
		}
		return nil
	}
	sess.Product = current
	return nil
}

func (r *Router) identifyProduct(ctx context.Context, message string, current catalog.Product) (catalog.Product, string, error) {
	out, err := promptrunner.Run(ctx, r.registry, r.provider, r.model, "product_identifier", "identify_product", promptrunner.Context{
		Lines: []string{fmt.Sprintf("User Message: %s\nSession product: %s", message, current)},
	})
	if err != nil {
		return "", "", err
	}
	raw, _ := out["product"].(string)
	product, ok := catalog.Normalize(raw)
	if !ok {
		question, _ := out["question"].(string)
		return "", question, nil
	}
	return product, "", nil
}

func (r *Router) routeDecision(ctx context.Context, sess *session.Session, message string) (Directive, error) {
	productInSession := string(sess.Product)
	if productInSession == "" {
		productInSession = "None"
	}

	recent := recentConversation(sess.History)

	contextText := fmt.Sprintf(
		"Last_user_message: %s\nProduct_in_session: %s\nRecent_conversation:\n%s",
		message, productInSession, recent,
	)

	out, err := promptrunner.Run(ctx, r.registry, r.provider, r.model, "orchestrator", "route_decision", promptrunner.Context{
		Lines: []string{contextText},
	})
	if err != nil {
		return "", err
	}
	directive, _ := out["directive"].(string)
	if directive == "" {
		directive = string(DirectiveCapabilities)
	}
	return Directive(directive), nil
}

// handleFollowUp ports decide's handle_follow_up branch: its own
// independent product (re)identification ahead of follow-up query
// construction, clearing cross-product context on a detected switch and
// narrowing the history window it hands to InfoFlow.
func (r *Router) handleFollowUp(ctx context.Context, sess *session.Session, message string) (string, error) {
	current := sess.Product
	product, _, err := r.identifyProduct(ctx, fmt.Sprintf("Message: %s\nSession product: %s", message, current), current)
	if err != nil {
		return "", err
	}

	var historyWindow []session.HistoryEntry
	if product != "" && product != current {
		sess.Product = product
		sess.LastQuestion = ""
		if len(sess.History) > 0 {
			historyWindow = sess.History[len(sess.History)-1:]
		}
	} else {
		n := 2
		if len(sess.History) < n {
			n = len(sess.History)
		}
		historyWindow = sess.History[len(sess.History)-n:]
	}

	var lines []string
	for _, h := range historyWindow {
		lines = append(lines, fmt.Sprintf("User: %s", h.User), fmt.Sprintf("Assistant: %s", h.Assistant))
	}
	convoContext := strings.Join(lines, "\n")

	fuContext := fmt.Sprintf("Product: %s\nLatest: %s\nRecent conversation (most recent first):\n%s", sess.Product, message, convoContext)

	out, err := promptrunner.Run(ctx, r.registry, r.provider, r.model, "follow_up_agent", "construct_follow_up_query", promptrunner.Context{
		Lines: []string{fuContext},
	})
	if err != nil {
		return "", err
	}
	query, _ := out["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		query = message
	}
	sess.FollowUpQuery = query

	result, err := r.info.Handle(ctx, sess, message, true)
	if err != nil {
		return "", err
	}
	return result.Reply, nil
}

// recentConversation renders the last 3 history turns most-recent-first,
// matching decide's recent_conversation_text construction.
func recentConversation(history []session.HistoryEntry) string {
	if len(history) == 0 {
		return "No recent conversation"
	}
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	recent := history[start:]

	var lines []string
	for i := len(recent) - 1; i >= 0; i-- {
		h := recent[i]
		if h.User == "" || h.Assistant == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("User: %s", h.User), fmt.Sprintf("Assistant: %s", h.Assistant))
	}
	if len(lines) == 0 {
		return "No recent conversation"
	}
	return strings.Join(lines, "\n")
}
