// Package tierflow holds the control flow shared by the comparison and
// summary sub-flows: identify a product and a set of tiers across turns
// without re-asking once known, bypass the orchestrator while a slot is
// pending, and synthesize a reply from the product's benefits once ready.
// Grounded on original_source/hlas/src/hlas/flows/compare_flow.py's
// CompareFlowHelper and flows/summary_flow.py's SummaryFlowHelper, which
// are near-identical implementations of this same shape differing only in
// their minimum tier count, clarification wording, and response template.
package tierflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
)

// Template is a product-specific (system, user) synthesis prompt pair,
// with {product}/{tiers}/{question}/{context} placeholders in user.
type Template struct {
	System string
	User   string
}

// Slot mirrors session.WorkingSlot but is owned by this package so tests
// and callers can pass a bare value without reaching into session.
type Slot struct {
	Product catalog.Product
	Tiers   []string
}

// Config is the fixed, per-flow-kind behavior: what differs between the
// comparison and summary sub-flows.
type Config struct {
	FlowLabel          string // "comparison" | "summary", used in the clarification context line
	MinTiers           int    // 2 for comparison, 1 for summary
	ClarifyProductText string
	ClarifyTiersText   func(product catalog.Product) string
	Templates          map[string]Template
	DefaultSystem      string
	DefaultUser        string
	CarFallbackReply   string
	TierFallbackReply  string
}

// Result is the outcome of one Handle call. Done reports whether the
// synthesis step ran (the caller should then record a completion and
// clear its working slot); otherwise Slot holds the updated in-progress
// state to persist back to the session.
type Result struct {
	Slot    Slot
	Reply   string
	Done    bool
	Product catalog.Product
	Tiers   []string
}

// Handle advances one turn of a tier-comparing/summarizing sub-flow.
// slot is nil on the very first turn (mirrors first_msg's comparison_slot
// initialization); history is used for the clarification agent's recent
// context window only.
func Handle(ctx context.Context, registry *promptrunner.Registry, provider llm.Provider, model string, cfg Config, benefits retrieval.BenefitsFetcher, slot *Slot, sessionProduct catalog.Product, message string, history []session.HistoryEntry) (Result, error) {
	working := Slot{}
	if slot != nil {
		working = *slot
	}

	if err := ensureProduct(ctx, registry, provider, model, &working, sessionProduct, message); err != nil {
		return Result{}, err
	}
	if err := ensureTiers(ctx, registry, provider, model, cfg, &working, message, history); err != nil {
		return Result{}, err
	}

	if working.Product == "" {
		q, err := askClarify(ctx, registry, provider, model, cfg, "product", "", nil, history)
		if err != nil {
			return Result{}, err
		}
		if q == "" {
			q = cfg.ClarifyProductText
		}
		return Result{Slot: working, Reply: q}, nil
	}

	if working.Product != catalog.Car && len(working.Tiers) < cfg.MinTiers {
		q, err := askClarify(ctx, registry, provider, model, cfg, "tiers", working.Product, working.Tiers, history)
		if err != nil {
			return Result{}, err
		}
		if q == "" {
			q = cfg.ClarifyTiersText(working.Product)
		}
		return Result{Slot: working, Reply: q}, nil
	}

	var benefitsText string
	if benefits != nil {
		chunks, err := benefits.FetchBenefits(ctx, string(working.Product))
		if err == nil {
			var parts []string
			for _, c := range chunks {
				parts = append(parts, c.Content)
			}
			benefitsText = strings.Join(parts, "\n")
		}
	}

	tpl, ok := cfg.Templates[strings.ToLower(string(working.Product))]
	if !ok {
		tpl = Template{System: cfg.DefaultSystem, User: cfg.DefaultUser}
	}
	tiersTxt := strings.Join(working.Tiers, ", ")
	if tiersTxt == "" && working.Product == catalog.Car {
		tiersTxt = "N/A"
	}
	r := strings.NewReplacer(
		"{product}", string(working.Product),
		"{tiers}", tiersTxt,
		"{question}", message,
		"{context}", benefitsText,
	)
	sysPrompt := r.Replace(tpl.System)
	usrPrompt := r.Replace(tpl.User)

	reply, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: sysPrompt},
		{Role: "user", Content: usrPrompt},
	}, model)
	if err != nil {
		return Result{}, fmt.Errorf("tierflow: %s synthesis: %w", cfg.FlowLabel, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		if working.Product == catalog.Car {
			reply = cfg.CarFallbackReply
		} else {
			reply = cfg.TierFallbackReply
		}
	}

	return Result{Slot: working, Reply: reply, Done: true, Product: working.Product, Tiers: working.Tiers}, nil
}

// ensureProduct resolves working.Product once, preferring the session's
// already-known product over an LLM call. It identifies only while no
// product is set, so it never clears collected tiers; product switches
// are detected in ensureTiers.
func ensureProduct(ctx context.Context, registry *promptrunner.Registry, provider llm.Provider, model string, working *Slot, sessionProduct catalog.Product, message string) error {
	if working.Product != "" {
		return nil
	}
	if sessionProduct != "" {
		working.Product = sessionProduct
		return nil
	}

	out, err := promptrunner.Run(ctx, registry, provider, model, "product_identifier", "identify_product", promptrunner.Context{
		Lines: []string{fmt.Sprintf("User Message: %s\nSession product: %s", message, sessionProduct)},
	})
	if err != nil {
		return err
	}
	raw, _ := out["product"].(string)
	product, ok := catalog.Normalize(raw)
	if !ok {
		return nil
	}
	if working.Product != "" && working.Product != product {
		working.Tiers = nil
	}
	working.Product = product
	return nil
}

// ensureTiers identifies tiers until cfg.MinTiers are known, merging any
// newly identified tiers with what's already collected and deduplicating
// while preserving order. Car products never need tiers.
func ensureTiers(ctx context.Context, registry *promptrunner.Registry, provider llm.Provider, model string, cfg Config, working *Slot, message string, history []session.HistoryEntry) error {
	if working.Product == catalog.Car {
		return nil
	}
	if len(working.Tiers) >= cfg.MinTiers {
		return nil
	}

	lines := []string{
		fmt.Sprintf("Product: %s", working.Product),
		fmt.Sprintf("User Message: %s", message),
		"Recent conversation (most recent first):",
	}
	lines = append(lines, recentHistoryLines(history)...)

	out, err := promptrunner.Run(ctx, registry, provider, model, "tier_identifier", "identify_tiers", promptrunner.Context{
		Product: string(working.Product),
		Lines:   lines,
	})
	if err != nil {
		return err
	}

	var newTiers []string
	if raw, ok := out["tiers"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				newTiers = append(newTiers, s)
			}
		}
	}

	if inferredRaw, _ := out["product"].(string); inferredRaw != "" {
		if inferred, ok := catalog.Normalize(inferredRaw); ok {
			if working.Product == "" {
				working.Product = inferred
			} else if working.Product != inferred {
				working.Tiers = nil
				working.Product = inferred
			}
		}
	}

	merged := working.Tiers
	seen := make(map[string]bool, len(merged))
	for _, t := range merged {
		seen[t] = true
	}
	for _, t := range newTiers {
		if !seen[t] {
			merged = append(merged, t)
			seen[t] = true
		}
	}
	working.Tiers = merged
	return nil
}

func recentHistoryLines(history []session.HistoryEntry) []string {
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	var lines []string
	for _, h := range history[start:] {
		lines = append(lines, fmt.Sprintf("User: %s", h.User), fmt.Sprintf("Assistant: %s", h.Assistant))
	}
	return lines
}

// askClarify runs the shared followup_clarification_agent/followup_clarification
// task to generate one short clarifying question, returning "" if the LLM
// call produced nothing usable (the caller falls back to cfg's static text).
func askClarify(ctx context.Context, registry *promptrunner.Registry, provider llm.Provider, model string, cfg Config, awaitKey string, product catalog.Product, knownTiers []string, history []session.HistoryEntry) (string, error) {
	lines := []string{
		fmt.Sprintf("await=%s", awaitKey),
		fmt.Sprintf("product=%s", product),
		fmt.Sprintf("known_tiers=%s", strings.Join(knownTiers, ", ")),
		fmt.Sprintf("flow_type=%s", cfg.FlowLabel),
	}
	if product != "" {
		lines = append(lines, fmt.Sprintf("available_tiers=%s", catalog.AvailableTiersHint(product)))
	}
	lines = append(lines, recentHistoryLines(history)...)

	out, err := promptrunner.Run(ctx, registry, provider, model, "followup_clarification_agent", "followup_clarification", promptrunner.Context{
		Lines: lines,
	})
	if err != nil {
		return "", err
	}
	if q, ok := out["question"].(string); ok && strings.TrimSpace(q) != "" {
		return strings.TrimSpace(q), nil
	}
	if q, ok := out["response"].(string); ok && strings.TrimSpace(q) != "" {
		return strings.TrimSpace(q), nil
	}
	return "", nil
}
