// Package anthropic wraps github.com/anthropics/anthropic-sdk-go's Messages
// API behind llm.Provider, simplified from the teacher's
// internal/llm/anthropic/client.go (no tool calls, no extended thinking,
// no prompt caching — single-shot text/JSON completions only).
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
)

const defaultMaxTokens int64 = 1024

// Client adapts the Anthropic SDK to llm.Provider.
type Client struct {
	sdk          anthropic.Client
	defaultModel string
	maxTokens    int64
}

// New builds a Client. baseURL may be empty to use the default Anthropic API.
func New(apiKey, baseURL, defaultModel string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	model := defaultModel
	if strings.TrimSpace(model) == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), defaultModel: model, maxTokens: defaultMaxTokens}
}

// Chat sends msgs (splitting any system-role messages into Anthropic's
// dedicated system parameter) as a single Messages request and returns the
// assistant's text content.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	effectiveModel := model
	if strings.TrimSpace(effectiveModel) == "" {
		effectiveModel = c.defaultModel
	}

	system, converted := adaptMessages(msgs)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(effectiveModel),
		Messages:  converted,
		System:    system,
		MaxTokens: c.maxTokens,
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic chat completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}

func adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}
