// Package infoflow answers one-turn "tell me about X" questions against
// the retrieved knowledge base, grounded on
// original_source/hlas/src/hlas/flows/info_flow.py's InfoFlowHelper.
package infoflow

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
)

//go:embed config/ir_response.yaml
var templatesFS embed.FS

// responseTemplate is a product-specific (system, user) pair for the
// synthesis call, with {question}/{context} placeholders in user.
type responseTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

var defaultTemplate = responseTemplate{
	System: "You are an insurance information responder. Answer using only the provided context.",
	User:   "Question: {question}\n\n[Context]\n{context}",
}

func loadTemplates() (map[string]responseTemplate, error) {
	raw, err := templatesFS.ReadFile("config/ir_response.yaml")
	if err != nil {
		return nil, fmt.Errorf("infoflow: read ir_response.yaml: %w", err)
	}
	var out map[string]responseTemplate
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("infoflow: parse ir_response.yaml: %w", err)
	}
	return out, nil
}

// Result is the outcome of one Handle call.
type Result struct {
	Reply   string
	Sources []string
}

// Handler resolves a product (asking for clarification when it cannot),
// retrieves knowledge-base context, and synthesizes a reply.
type Handler struct {
	registry  *promptrunner.Registry
	provider  llm.Provider
	model     string
	store     *retrieval.HybridStore
	templates map[string]responseTemplate
}

// New builds a Handler, embedding the product-specific response templates.
func New(registry *promptrunner.Registry, provider llm.Provider, model string, store *retrieval.HybridStore) (*Handler, error) {
	templates, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	return &Handler{registry: registry, provider: provider, model: model, store: store, templates: templates}, nil
}

// Handle answers message against sess's current product context, mutating
// sess in place (product resolution, clarification flags) exactly as
// InfoFlowHelper.handle mutates its session dict.
func (h *Handler) Handle(ctx context.Context, sess *session.Session, message string, useFollowUpQuery bool) (Result, error) {
	question := message
	usedFastPath := false

	if useFollowUpQuery && sess.FollowUpQuery != "" && sess.Product != "" {
		question = sess.FollowUpQuery
		usedFastPath = true
	}

	if !usedFastPath {
		if sess.Product == "" {
			product, clarify, err := h.identifyProduct(ctx, fmt.Sprintf("Message: %s\nSession product: %s", message, sess.Product))
			if err != nil {
				return Result{}, err
			}
			if product != "" {
				sess.Product = product
			} else {
				sess.LastInfoProdQuestion = true
				sess.LastInfoUserMsg = message
				if clarify == "" {
					clarify = "Which product would you like to ask about: Travel, Maid, Car, or Personal Accident?"
				}
				return Result{Reply: clarify}, nil
			}
		}

		if sess.LastInfoProdQuestion {
			product, _, err := h.identifyProduct(ctx, fmt.Sprintf("Message: %s", message))
			if err != nil {
				return Result{}, err
			}
			if product != "" {
				sess.Product = product
				if strings.TrimSpace(sess.LastInfoUserMsg) != "" {
					question = sess.LastInfoUserMsg
				}
				sess.LastInfoProdQuestion = false
				sess.LastInfoUserMsg = ""
			}
		}
	}

	product := string(sess.Product)
	chunks, _, err := h.store.Search(ctx, question, product)
	if err != nil {
		return Result{}, err
	}
	if len(chunks) == 0 {
		return Result{Reply: fmt.Sprintf("I couldn't find that in our %s documents. Could you specify a bit more so I can search precisely?", product)}, nil
	}

	tpl, ok := h.templates[strings.ToLower(product)]
	if !ok {
		tpl = defaultTemplate
	}
	contextStr := retrieval.BuildContext(chunks)
	userPrompt := strings.NewReplacer("{question}", question, "{context}", contextStr).Replace(tpl.User)

	reply, err := h.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: tpl.System},
		{Role: "user", Content: userPrompt},
	}, h.model)
	if err != nil {
		return Result{}, fmt.Errorf("infoflow: synthesis call: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "I couldn't find precise details. Could you clarify your question?"
	}

	return Result{Reply: reply, Sources: retrieval.Sources(chunks)}, nil
}

// identifyProduct runs the shared product_identifier/identify_product
// task and normalizes its result into a catalog.Product.
func (h *Handler) identifyProduct(ctx context.Context, contextLine string) (catalog.Product, string, error) {
	out, err := promptrunner.Run(ctx, h.registry, h.provider, h.model, "product_identifier", "identify_product", promptrunner.Context{
		Lines: []string{contextLine},
	})
	if err != nil {
		return "", "", err
	}
	raw, _ := out["product"].(string)
	question, _ := out["question"].(string)
	product, ok := catalog.Normalize(raw)
	if !ok {
		return "", question, nil
	}
	return product, question, nil
}
