// Package openai wraps github.com/openai/openai-go/v2's Chat Completions
// API behind llm.Provider, simplified from the teacher's
// internal/llm/openai/client.go (no streaming, no tool calls, no image
// generation — single-shot text/JSON completions only).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
)

// Client adapts the OpenAI SDK to llm.Provider.
type Client struct {
	sdk          sdk.Client
	defaultModel string
}

// New builds a Client. baseURL may be empty to use the default OpenAI API.
func New(apiKey, baseURL, defaultModel string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{sdk: sdk.NewClient(opts...), defaultModel: defaultModel}
}

// Chat sends msgs as a single Chat Completions request and returns the
// first choice's text content.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	effectiveModel := model
	if strings.TrimSpace(effectiveModel) == "" {
		effectiveModel = c.defaultModel
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	return comp.Choices[0].Message.Content, nil
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
