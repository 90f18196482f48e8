// Package summaryflow implements the tier-summary sub-flow, grounded on
// original_source/hlas/src/hlas/flows/summary_flow.py's SummaryFlowHelper.
// It differs from compareflow only in accepting a single known tier
// (rather than requiring two) and in its response templates/wording; the
// shared control flow lives in internal/tierflow.
package summaryflow

import (
	"context"
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/tierflow"
)

//go:embed config/summary_response.yaml
var templatesFS embed.FS

type yamlTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

func loadConfig() (tierflow.Config, error) {
	raw, err := templatesFS.ReadFile("config/summary_response.yaml")
	if err != nil {
		return tierflow.Config{}, fmt.Errorf("summaryflow: read summary_response.yaml: %w", err)
	}
	var parsed map[string]yamlTemplate
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return tierflow.Config{}, fmt.Errorf("summaryflow: parse summary_response.yaml: %w", err)
	}
	templates := make(map[string]tierflow.Template, len(parsed))
	for k, v := range parsed {
		templates[k] = tierflow.Template{System: v.System, User: v.User}
	}

	return tierflow.Config{
		FlowLabel:          "summary",
		MinTiers:           1,
		ClarifyProductText: "Which product would you like summarized: Travel, Maid, or Car?",
		ClarifyTiersText:   clarifyTiersFallback,
		Templates:          templates,
		DefaultSystem:      "You are an insurance summary responder. Summarize succinctly using only the provided context.",
		DefaultUser:        "Product: {product}\nTiers: {tiers}\nQuestion: {question}\n\n[Context]\n{context}",
		CarFallbackReply:   "Here is a concise summary.",
		TierFallbackReply:  "Which tier should I summarize?",
	}, nil
}

func clarifyTiersFallback(product catalog.Product) string {
	switch product {
	case catalog.Car:
		return "Car has no tiers. Which aspects should I summarize?"
	case catalog.Travel, catalog.Maid, catalog.PersonalAccident:
		return fmt.Sprintf("Which %s tier(s) should I summarize? Available: %s", product, catalog.AvailableTiersHint(product))
	default:
		return "Which tier(s) should I summarize?"
	}
}

// Handler runs the summary sub-flow.
type Handler struct {
	registry *promptrunner.Registry
	provider llm.Provider
	model    string
	benefits retrieval.BenefitsFetcher
	config   tierflow.Config
}

// New builds a Handler, embedding the summary response templates.
func New(registry *promptrunner.Registry, provider llm.Provider, model string, benefits retrieval.BenefitsFetcher) (*Handler, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &Handler{registry: registry, provider: provider, model: model, benefits: benefits, config: cfg}, nil
}

// Handle advances the summary sub-flow by one turn, mutating sess's
// SummarySlot/SummaryStatus/SummaryHistory/LastCompleted fields exactly as
// SummaryFlowHelper.handle mutates its session dict. Always returns a
// reply — the summary sub-flow never declines a turn.
func (h *Handler) Handle(ctx context.Context, sess *session.Session, message string) (string, error) {
	var slot *tierflow.Slot
	if sess.SummarySlot != nil {
		slot = &tierflow.Slot{Product: sess.SummarySlot.Product, Tiers: sess.SummarySlot.Tiers}
	}

	result, err := tierflow.Handle(ctx, h.registry, h.provider, h.model, h.config, h.benefits, slot, sess.Product, message, sess.History)
	if err != nil {
		return "", err
	}

	if result.Product != "" && result.Product != sess.Product {
		sess.Product = result.Product
	} else if result.Slot.Product != "" {
		sess.Product = result.Slot.Product
	}

	if result.Done {
		sess.SummaryStatus = session.StatusDone
		sess.SummarySlot = nil
		sess.AppendSummaryCompletion(session.CompletionRecord{
			Product:   result.Product,
			Tiers:     result.Tiers,
			Completed: true,
		})
		sess.LastCompleted = session.CompletedSummary
		return result.Reply, nil
	}

	sess.SummaryStatus = session.StatusInProgress
	sess.SummarySlot = &session.WorkingSlot{Product: result.Slot.Product, Tiers: result.Slot.Tiers}
	return result.Reply, nil
}
