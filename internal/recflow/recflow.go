// Package recflow implements the slot-filling recommendation flow,
// grounded on original_source/hlas/src/hlas/flows/rec_flow.py's
// RecFlowHelper — the canonical recommendation implementation (see
// DESIGN.md's Open Question decisions).
package recflow

import (
	"context"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
)

//go:embed config/recommendation_response.yaml config/slot_validation_rules.yaml
var configFS embed.FS

type recTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// restartKeywords mirrors rec_flow.py::handle's wants_new_rec phrase list.
var restartKeywords = []string{
	"new recommendation", "fresh recommendation", "start over", "restart", "again", "different recommendation",
}

// Result is the outcome of one Handle call.
type Result struct {
	Reply string
}

// Handler runs the recommendation flow's slot-filling state machine.
type Handler struct {
	registry        *promptrunner.Registry
	provider        llm.Provider
	model           string
	benefits        retrieval.BenefitsFetcher
	recTemplates    map[string]recTemplate
	validationRules map[string]map[string][]string
	loc             *time.Location
}

// New builds a Handler, embedding the recommendation and validation-rule
// templates. loc is the time zone used to stamp the validation context's
// current-date line (the original uses Asia/Singapore).
func New(registry *promptrunner.Registry, provider llm.Provider, model string, benefits retrieval.BenefitsFetcher, loc *time.Location) (*Handler, error) {
	recRaw, err := configFS.ReadFile("config/recommendation_response.yaml")
	if err != nil {
		return nil, fmt.Errorf("recflow: read recommendation_response.yaml: %w", err)
	}
	var recTemplates map[string]recTemplate
	if err := yaml.Unmarshal(recRaw, &recTemplates); err != nil {
		return nil, fmt.Errorf("recflow: parse recommendation_response.yaml: %w", err)
	}

	rulesRaw, err := configFS.ReadFile("config/slot_validation_rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("recflow: read slot_validation_rules.yaml: %w", err)
	}
	var rules map[string]map[string][]string
	if err := yaml.Unmarshal(rulesRaw, &rules); err != nil {
		return nil, fmt.Errorf("recflow: parse slot_validation_rules.yaml: %w", err)
	}

	if loc == nil {
		loc = time.UTC
	}
	return &Handler{registry: registry, provider: provider, model: model, benefits: benefits, recTemplates: recTemplates, validationRules: rules, loc: loc}, nil
}

// Handle advances the recommendation flow by one turn, mutating sess in
// place exactly as RecFlowHelper.handle mutates its session dict.
func (h *Handler) Handle(ctx context.Context, sess *session.Session, message string) (Result, error) {
	currentProduct := sess.Product

	identified, question, err := h.identifyProduct(ctx, message, currentProduct)
	if err != nil {
		return Result{}, err
	}

	var product catalog.Product
	switch {
	case identified != "" && identified != currentProduct:
		sess.Slots = map[string]session.Slot{}
		sess.RecommendationStatus = session.StatusNone
		product = identified
		sess.Product = product
	case identified != "":
		product = identified
		sess.Product = product
	case currentProduct != "":
		product = currentProduct
	default:
		q := "What type of insurance are you interested in for the recommendation: Travel, Maid, Car, or Personal Accident?"
		if question != "" {
			q = question
		}
		sess.RecommendationStatus = session.StatusInProgress
		return Result{Reply: q}, nil
	}

	if sess.RecommendationStatus == session.StatusDone {
		lower := strings.ToLower(message)
		wantsNew := strings.Contains(lower, "recommendation")
		for _, kw := range restartKeywords {
			if strings.Contains(lower, kw) {
				wantsNew = true
				break
			}
		}
		if wantsNew {
			sess.Slots = map[string]session.Slot{}
			sess.RecommendationStatus = session.StatusNone
		} else {
			return Result{Reply: "You already have a recommendation. How else can I help you?"}, nil
		}
	}

	required := catalog.RequiredSlots(product)
	if sess.Slots == nil {
		sess.Slots = map[string]session.Slot{}
	}

	if len(required) > 0 && sess.RecommendationStatus != session.StatusInProgress {
		sess.RecommendationStatus = session.StatusInProgress
	}

	if product == catalog.Car {
		reply, err := h.generateRecommendation(ctx, product, sess.Slots)
		if err != nil {
			return Result{}, err
		}
		sess.RecommendationStatus = session.StatusDone
		return Result{Reply: reply}, nil
	}

	extracted, explanation, err := h.extractSlots(ctx, product, message, sess)
	if err != nil {
		return Result{}, err
	}
	if explanation != "" {
		return Result{Reply: explanation}, nil
	}

	slotsToValidate := h.assignExtractedSlots(sess.Slots, required, extracted)

	failedSlot, failedQuestion, err := h.validateSlots(ctx, product, message, sess.Slots, slotsToValidate)
	if err != nil {
		return Result{}, err
	}
	if failedSlot != "" {
		return Result{Reply: failedQuestion}, nil
	}

	missing := session.MissingSlots(sess.Slots, required)
	if len(missing) > 0 {
		next := missing[0]
		q, err := h.askNextQuestion(ctx, product, next, sess.Slots, sess.UserWantsDetails)
		if err != nil {
			return Result{}, err
		}
		sess.LastQuestion = q
		return Result{Reply: q}, nil
	}

	reply, err := h.generateRecommendation(ctx, product, sess.Slots)
	if err != nil {
		return Result{}, err
	}
	sess.RecommendationStatus = session.StatusDone
	sess.LastCompleted = session.CompletedRecommendation
	return Result{Reply: reply}, nil
}

func (h *Handler) identifyProduct(ctx context.Context, message string, current catalog.Product) (catalog.Product, string, error) {
	out, err := promptrunner.Run(ctx, h.registry, h.provider, h.model, "product_identifier", "identify_product", promptrunner.Context{
		Lines: []string{fmt.Sprintf("Message: %s\nSession product: %s", message, current)},
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

// assignExtractedSlots applies slot_extractor's output to current
// (in place), returning the slots that now need (re-)validation.
// Mirrors RecFlowHelper.handle's "assign extracted slot values" pass.
func (h *Handler) assignExtractedSlots(slots map[string]session.Slot, required []string, extracted map[string]string) []string {
	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}

	var toValidate []string
	for name, value := range extracted {
		if !requiredSet[name] {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			delete(slots, name)
			continue
		}
		existing := slots[name]
		if existing.Value != value || !existing.Valid {
			slots[name] = session.Slot{Value: value, Valid: false}
			toValidate = append(toValidate, name)
		}
	}
	return toValidate
}

// extractSlots runs the slot_extractor task, returning either the
// extracted slot map or an explanation reply (mutually exclusive, as in
// the original's {"user_needs_explanation": true, "explanation": ...}
// short-circuit).
func (h *Handler) extractSlots(ctx context.Context, product catalog.Product, message string, sess *session.Session) (map[string]string, string, error) {
	required := catalog.RequiredSlots(product)
	missing := session.MissingSlots(sess.Slots, required)

	var slotInfo []string
	targets := missing
	if len(missing) == 0 {
		for _, name := range required {
			if v := sess.SlotValue(name); v != "" {
				slotInfo = append(slotInfo, fmt.Sprintf("- %s: %s (current: %s)", name, slotDescription(product, name), v))
			}
		}
		targets = required
	} else {
		for _, name := range missing {
			slotInfo = append(slotInfo, fmt.Sprintf("- %s: %s (current: not filled)", name, slotDescription(product, name)))
		}
	}

	lastQuestion := sess.LastQuestion
	if lastQuestion == "" {
		lastQuestion = "None"
	}

	lines := []string{
		fmt.Sprintf("Product: %s", product),
		fmt.Sprintf("User message: %s", message),
		fmt.Sprintf("Last bot question: %s", lastQuestion),
		fmt.Sprintf("Valid slots: %s", strings.Join(targets, ", ")),
		"",
		"Slots to extract/update (focus on these only):",
	}
	lines = append(lines, slotInfo...)

	out, err := promptrunner.Run(ctx, h.registry, h.provider, h.model, "slot_extractor", "extract_slots", promptrunner.Context{
		Product: string(product),
		Lines:   lines,
	})
	if err != nil {
		return nil, "", err
	}

	if explanation, ok := out["explanation"].(string); ok && truthy(out["user_needs_explanation"]) && explanation != "" {
		return nil, explanation, nil
	}

	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}
	filtered := make(map[string]string)
	for name, raw := range out {
		if !requiredSet[name] {
			continue
		}
		str, ok := raw.(string)
		if !ok || strings.TrimSpace(str) == "" {
			continue
		}
		filtered[name] = str
	}
	return filtered, "", nil
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// validateSlots validates targets sequentially, stopping at the first
// invalid value, matching RecFlowHelper.handle's sequential
// validate-then-break behavior.
func (h *Handler) validateSlots(ctx context.Context, product catalog.Product, message string, slots map[string]session.Slot, targets []string) (string, string, error) {
	for _, name := range targets {
		if slots[name].Valid {
			continue
		}
		value := slots[name].Value

		result, err := h.validateSlot(ctx, product, message, name, value)
		if err != nil {
			return "", "", err
		}

		normalized, _ := result["normalized_value"].(string)
		if truthy(result["valid"]) && normalized != "" {
			slots[name] = session.Slot{Value: normalized, Valid: true}
			continue
		}

		delete(slots, name)
		reason, _ := result["reason"].(string)
		questionText, _ := result["question"].(string)
		reason = strings.TrimSpace(reason)
		questionText = strings.TrimSpace(questionText)

		if questionText == "" {
			questionText = fallbackValidationQuestion(name)
		}
		var failedQuestion string
		switch {
		case reason != "" && !strings.Contains(strings.ToLower(questionText), strings.ToLower(reason)):
			failedQuestion = fmt.Sprintf("%s. %s", reason, questionText)
		case questionText != "":
			failedQuestion = questionText
		default:
			failedQuestion = fmt.Sprintf("'%s' is not valid. Please provide a valid %s.", value, strings.ReplaceAll(name, "_", " "))
		}
		return name, failedQuestion, nil
	}
	return "", "", nil
}

func fallbackValidationQuestion(slotName string) string {
	switch slotName {
	case "destination":
		return "Please provide a country name (not a city). Which country will you be travelling to?"
	case "travel_duration":
		return "Travel duration must be 1-365 days or future dates. How many days will your trip last?"
	case "pre_existing_medical_condition":
		return "Please answer Yes or No. Do you have any pre-existing medical conditions?"
	case "plan_preference":
		return "Please choose 'budget' or 'comprehensive'. Which coverage would you prefer?"
	default:
		return fmt.Sprintf("Please provide a valid %s.", strings.ReplaceAll(slotName, "_", " "))
	}
}

func (h *Handler) validateSlot(ctx context.Context, product catalog.Product, message, slotName, slotValue string) (map[string]any, error) {
	now := time.Now()
	if h.loc != nil {
		now = now.In(h.loc)
	}
	dateLine := fmt.Sprintf("Current date (Asia/Singapore): %s", now.Format("02 January 2006"))

	lines := []string{
		fmt.Sprintf("Product: %s", product),
		fmt.Sprintf("Slot: %s", slotName),
		fmt.Sprintf("Value: %s", slotValue),
		fmt.Sprintf("User message: %s", message),
		dateLine,
	}
	if rules := h.validationRules[strings.ToLower(string(product))][strings.ToLower(slotName)]; len(rules) > 0 {
		lines = append(lines, "Validation Rules:")
		lines = append(lines, rules...)
	}

	return promptrunner.Run(ctx, h.registry, h.provider, h.model, "slot_validator", "validate_slot", promptrunner.Context{
		Product: string(product),
		Lines:   lines,
	})
}

func (h *Handler) askNextQuestion(ctx context.Context, product catalog.Product, missingSlot string, slots map[string]session.Slot, userWantsDetails bool) (string, error) {
	spec := catalog.SlotSpecs(product)[missingSlot]
	lines := []string{
		fmt.Sprintf("Product: %s", product),
		fmt.Sprintf("Missing slot: %s", missingSlot),
		fmt.Sprintf("Slot type: %s", spec.Type),
		fmt.Sprintf("Options: %s", strings.Join(spec.Options, ", ")),
		fmt.Sprintf("Slot description: %s", slotDescription(product, missingSlot)),
		fmt.Sprintf("Current slots: %v", slotValues(slots)),
		fmt.Sprintf("User wants detailed explanations: %t", userWantsDetails),
	}

	out, err := promptrunner.Run(ctx, h.registry, h.provider, h.model, "question_asker", "ask_question", promptrunner.Context{
		Product: string(product),
		Lines:   lines,
	})
	if err != nil {
		return "", err
	}
	if q, ok := out["question"].(string); ok && strings.TrimSpace(q) != "" {
		return q, nil
	}
	return fmt.Sprintf("Could you please provide %s?", missingSlot), nil
}

func (h *Handler) generateRecommendation(ctx context.Context, product catalog.Product, slots map[string]session.Slot) (string, error) {
	tier := tierFor(product, slots)

	var benefitsText string
	if h.benefits != nil {
		chunks, err := h.benefits.FetchBenefits(ctx, string(product))
		if err == nil {
			var parts []string
			for _, c := range chunks {
				parts = append(parts, c.Content)
			}
			benefitsText = strings.Join(parts, "\n")
		}
	}

	tpl := h.recTemplates[strings.ToLower(string(product))]
	replacer := []string{"{tier}", tier, "{benefits}", benefitsText}
	if product == catalog.Maid {
		addOns := slots["add_ons"].Value
		if addOns == "" {
			addOns = "not_required"
		}
		replacer = append(replacer, "{add_ons}", addOns)
	}
	r := strings.NewReplacer(replacer...)
	sysPrompt := r.Replace(tpl.System)
	usrPrompt := r.Replace(tpl.User)

	if sysPrompt == "" || usrPrompt == "" {
		return fallbackRecommendation(tier, benefitsText), nil
	}

	out, err := promptrunner.Run(ctx, h.registry, h.provider, h.model, "recommendation_responder", "synthesize_response", promptrunner.Context{
		Lines: []string{fmt.Sprintf("[System]\n%s\n\n[User]\n%s", sysPrompt, usrPrompt)},
	})
	if err != nil {
		return "", err
	}
	response, _ := out["response"].(string)
	response = strings.TrimSpace(response)
	if response == "" {
		return fallbackRecommendation(tier, benefitsText), nil
	}
	return response, nil
}

func fallbackRecommendation(tier, benefitsText string) string {
	if tier == "" {
		if len(benefitsText) > 4096 {
			benefitsText = benefitsText[:4096]
		}
		return fmt.Sprintf("Here are the key benefits:\n\n%s", benefitsText)
	}
	if len(benefitsText) > 1500 {
		benefitsText = benefitsText[:1500]
	}
	return fmt.Sprintf("We recommend %s.\n\nHere are key benefits:\n%s", tier, benefitsText)
}

// tierFor computes the deterministic tier from the product's validated
// slots, exactly per RecFlowHelper._generate_recommendation's tier rules.
func tierFor(product catalog.Product, slots map[string]session.Slot) string {
	switch product {
	case catalog.Travel:
		switch strings.ToLower(strings.TrimSpace(slots["plan_preference"].Value)) {
		case "budget":
			return "Silver"
		case "comprehensive":
			return "Gold"
		}
	case catalog.Maid:
		switch strings.ToLower(strings.TrimSpace(slots["coverage_above_mom_minimum"].Value)) {
		case "yes":
			return "Premier"
		case "no":
			return "Enhanced"
		}
	case catalog.PersonalAccident:
		amount, err := strconv.Atoi(strings.TrimSpace(slots["desired_amount"].Value))
		if err == nil {
			switch {
			case amount >= 500 && amount <= 1000:
				return "Silver"
			case amount >= 1001 && amount <= 2500:
				return "Premier"
			case amount >= 2501 && amount <= 3500:
				return "Platinum"
			}
		}
	}
	return ""
}

func slotDescription(product catalog.Product, slot string) string {
	if spec, ok := catalog.SlotSpecs(product)[slot]; ok && spec.Description != "" {
		return spec.Description
	}
	return fmt.Sprintf("Information about %s", slot)
}

func slotValues(slots map[string]session.Slot) map[string]string {
	out := make(map[string]string, len(slots))
	for name, slot := range slots {
		out[name] = slot.Value
	}
	return out
}
