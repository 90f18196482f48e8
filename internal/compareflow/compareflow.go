// Package compareflow implements the tier-comparison sub-flow, grounded on
// original_source/hlas/src/hlas/flows/compare_flow.py's CompareFlowHelper.
// The shared identify-product/identify-tiers/clarify/synthesize control
// flow lives in internal/tierflow; this package supplies compareflow's
// specific wiring (minimum of two tiers, comparison-specific templates and
// clarification wording) and the session plumbing.
package compareflow

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

//go:embed config/cmp_response.yaml
var templatesFS embed.FS

type yamlTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

func loadConfig() (tierflow.Config, error) {
	raw, err := templatesFS.ReadFile("config/cmp_response.yaml")
	if err != nil {
		return tierflow.Config{}, fmt.Errorf("compareflow: read cmp_response.yaml: %w", err)
	}
	var parsed map[string]yamlTemplate
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return tierflow.Config{}, fmt.Errorf("compareflow: parse cmp_response.yaml: %w", err)
	}
	templates := make(map[string]tierflow.Template, len(parsed))
	for k, v := range parsed {
		templates[k] = tierflow.Template{System: v.System, User: v.User}
	}

	return tierflow.Config{
		FlowLabel:          "comparison",
		MinTiers:           2,
		ClarifyProductText: "Which product would you like to compare: Travel, Maid, or Car?",
		ClarifyTiersText:   clarifyTiersFallback,
		Templates:          templates,
		DefaultSystem:      "You are an insurance comparison responder. Compare tiers succinctly using only the provided context.",
		DefaultUser:        "Product: {product}\nTiers: {tiers}\nQuestion: {question}\n\n[Context]\n{context}",
		CarFallbackReply:   "Here is a concise comparison.",
		TierFallbackReply:  "Which two tiers should I compare?",
	}, nil
}

func clarifyTiersFallback(product catalog.Product) string {
	switch product {
	case catalog.Car:
		return "Car has no tiers to compare. Which aspects would you like me to compare?"
	case catalog.Travel, catalog.Maid, catalog.PersonalAccident:
		return fmt.Sprintf("Which %s tiers would you like to compare? Available: %s", product, catalog.AvailableTiersHint(product))
	default:
		return "Which two tiers should I compare?"
	}
}

// Handler runs the comparison sub-flow.
type Handler struct {
	registry *promptrunner.Registry
	provider llm.Provider
	model    string
	benefits retrieval.BenefitsFetcher
	config   tierflow.Config
}

// New builds a Handler, embedding the comparison response templates.
func New(registry *promptrunner.Registry, provider llm.Provider, model string, benefits retrieval.BenefitsFetcher) (*Handler, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &Handler{registry: registry, provider: provider, model: model, benefits: benefits, config: cfg}, nil
}

// Handle advances the comparison sub-flow by one turn, mutating sess's
// ComparisonSlot/ComparisonStatus/ComparisonHistory/LastCompleted fields
// exactly as CompareFlowHelper.handle mutates its session dict. Always
// returns a reply — the comparison sub-flow never declines a turn.
func (h *Handler) Handle(ctx context.Context, sess *session.Session, message string) (string, error) {
	var slot *tierflow.Slot
	if sess.ComparisonSlot != nil {
		slot = &tierflow.Slot{Product: sess.ComparisonSlot.Product, Tiers: sess.ComparisonSlot.Tiers}
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
		sess.ComparisonStatus = session.StatusDone
		sess.ComparisonSlot = nil
		sess.AppendComparisonCompletion(session.CompletionRecord{
			Product:   result.Product,
			Tiers:     result.Tiers,
			Completed: true,
		})
		sess.LastCompleted = session.CompletedComparison
		return result.Reply, nil
	}

	sess.ComparisonStatus = session.StatusInProgress
	sess.ComparisonSlot = &session.WorkingSlot{Product: result.Slot.Product, Tiers: result.Slot.Tiers}
	return result.Reply, nil
}
