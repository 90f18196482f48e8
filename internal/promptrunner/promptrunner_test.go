package promptrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
)

type fakeProvider struct {
	reply string
	err   error

	lastSystem string
	lastUser   string
}

func (f *fakeProvider) Chat(_ context.Context, msgs []llm.Message, _ string) (string, error) {
	for _, m := range msgs {
		switch m.Role {
		case "system":
			f.lastSystem = m.Content
		case "user":
			f.lastUser = m.Content
		}
	}
	return f.reply, f.err
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := LoadEmbedded()
	require.NoError(t, err)
	return r
}

func TestRunParsesStrictJSON(t *testing.T) {
	r := testRegistry(t)
	provider := &fakeProvider{reply: `{"product": "Travel", "confidence": 0.9}`}

	out, err := Run(context.Background(), r, provider, "gpt-4o", "product_identifier", "identify_product", Context{
		Lines: []string{"Message: I want travel insurance"},
	})
	require.NoError(t, err)
	require.Equal(t, "Travel", out["product"])
}

func TestRunExtractsBalancedObjectFromSurroundingText(t *testing.T) {
	r := testRegistry(t)
	provider := &fakeProvider{reply: "Sure thing, here you go:\n{\"tiers\": [\"Gold\", \"Silver\"]} -- hope that helps!"}

	out, err := Run(context.Background(), r, provider, "gpt-4o", "tier_identifier", "identify_tiers", Context{
		Product: "Travel",
		Lines:   []string{"Message: compare gold and silver"},
	})
	require.NoError(t, err)
	require.Equal(t, []any{"Gold", "Silver"}, out["tiers"])
}

func TestRunWrapsPlainTextForTextAllowedTask(t *testing.T) {
	r := testRegistry(t)
	provider := &fakeProvider{reply: "Your Travel Gold plan covers trip cancellation up to $5,000."}

	out, err := Run(context.Background(), r, provider, "gpt-4o", "recommendation_responder", "synthesize_response", Context{
		Lines: []string{"Computed tier: Gold"},
	})
	require.NoError(t, err)
	require.Equal(t, "Your Travel Gold plan covers trip cancellation up to $5,000.", out["response"])
}

func TestRunReturnsEmptyMapForNonTextAllowedUnparseableReply(t *testing.T) {
	r := testRegistry(t)
	provider := &fakeProvider{reply: "I'm not sure, could you clarify?"}

	out, err := Run(context.Background(), r, provider, "gpt-4o", "slot_validator", "validate_slot", Context{
		Lines: []string{"Slot: destination_country", "Value: Singaporen"},
	})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRenderInterpolatesProductAndSeparatesValidationRules(t *testing.T) {
	r := testRegistry(t)

	system, user := r.Render("slot_extractor", "extract_slots", Context{
		Product: "Maid",
		Lines: []string{
			"Message: my helper is from the Philippines",
			"Validation Rules:",
			"- nationality must be a recognized country",
		},
	})

	require.Contains(t, system, "Maid")
	require.NotContains(t, system, "{product}")
	require.Contains(t, system, "nationality must be a recognized country")
	require.Contains(t, user, "my helper is from the Philippines")
	require.NotContains(t, user, "nationality must be a recognized country")
}

func TestRenderValidateSlotFocusesOnNamedSlot(t *testing.T) {
	r := testRegistry(t)

	system, _ := r.Render("slot_validator", "validate_slot", Context{
		Lines: []string{"Slot: trip_duration_days", "Value: 10"},
	})

	require.Contains(t, system, "Focus only on validating trip_duration_days.")
}

func TestExtractBalancedObjectIgnoresBracesInsideStrings(t *testing.T) {
	substr, ok := extractBalancedObject(`prefix {"question": "what about the \"gold\" plan?"} suffix`)
	require.True(t, ok)
	require.Equal(t, `{"question": "what about the \"gold\" plan?"}`, substr)
}

func TestExtractBalancedObjectNoObjectPresent(t *testing.T) {
	_, ok := extractBalancedObject("no braces here at all")
	require.False(t, ok)
}
