package retrieval

import (
	"context"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIEmbedder adapts github.com/openai/openai-go/v2's Embeddings API to
// the Embedder interface, simplified the same way internal/llm/openai's
// Client simplifies Chat Completions (single-shot, no retry/backoff of its
// own — internal/ingress's outbound retry policy is the one retry surface
// this module carries, per the Ambient Stack's error-handling section).
type OpenAIEmbedder struct {
	sdk   sdk.Client
	model string
	dim   int
}

// NewOpenAIEmbedder builds an OpenAIEmbedder. baseURL may be empty to use
// the default OpenAI API endpoint; dim is the model's known output
// dimensionality (1536 for text-embedding-3-small, the configured
// default).
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int, httpClient *http.Client) *OpenAIEmbedder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{sdk: sdk.NewClient(opts...), model: model, dim: dim}
}

func (e *OpenAIEmbedder) Name() string   { return e.model }
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Ping issues a one-text embedding call to confirm the endpoint and API
// key are reachable and valid.
func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	_, err := e.EmbedBatch(ctx, []string{"ping"})
	return err
}

// EmbedBatch embeds texts in a single Embeddings.New call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(e.model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}

	resp, err := e.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
