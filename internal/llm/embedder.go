package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

type (
	// Embedder produces text embeddings through an OpenAI-compatible
	// embeddings API, rate limited to stay under provider quotas.
	Embedder struct {
		client  openai.Client
		model   string
		limiter *rate.Limiter
	}
)

// NewEmbedder builds a rate-limited embedder. rps <= 0 disables limiting.
func NewEmbedder(baseURL, apiKey, model string, rps float64) *Embedder {
	var ro []option.RequestOption
	if baseURL != "" {
		ro = append(ro, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		ro = append(ro, option.WithAPIKey(apiKey))
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Embedder{client: openai.NewClient(ro...), model: model, limiter: limiter}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm: embed: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
