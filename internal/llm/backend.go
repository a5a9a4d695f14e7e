// Package llm routes completion requests across two OpenAI-compatible
// backends: a local engine (primary) and a remote provider (fallback). The
// router owns the first-token deadline: a primary stream that stays silent
// past the deadline is cancelled and replaced mid-flight.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type (
	// Backend is a single completion provider. Implementations must be safe
	// for concurrent use; HTTP clients are reused across requests.
	Backend interface {
		// Name identifies the backend in chunk metadata ("local-vllm",
		// "openai-fallback").
		Name() string
		// Stream opens a token stream for the prompt. The returned stream
		// must honor ctx cancellation without leaking the connection.
		Stream(ctx context.Context, prompt string, maxTokens int) (TokenStream, error)
		// Complete performs a non-streaming completion. jsonMode constrains
		// the output to a single JSON object where the provider supports it.
		Complete(ctx context.Context, prompt string, maxTokens int, jsonMode bool) (string, error)
	}

	// TokenStream iterates over streamed tokens.
	TokenStream interface {
		// Next advances to the next token, blocking until one arrives or
		// the stream ends. Returns false at end of stream or on error.
		Next() bool
		// Token returns the current token text.
		Token() string
		// Err returns the terminal error, nil on clean end of stream.
		Err() error
		// Close releases the underlying connection. Idempotent.
		Close() error
	}

	// OpenAIBackend speaks the OpenAI chat completions protocol against any
	// compatible endpoint (vLLM, OpenAI).
	OpenAIBackend struct {
		name   string
		client openai.Client
		model  string
	}

	// Options configures an OpenAI-compatible backend.
	Options struct {
		// Name labels the backend in events and metrics. Required.
		Name string
		// BaseURL overrides the API endpoint (local engines). Optional.
		BaseURL string
		// APIKey authenticates remote providers. Optional for local engines.
		APIKey string
		// Model is the default model identifier. Required.
		Model string
	}

	openAIStream struct {
		inner interface {
			Next() bool
			Err() error
			Close() error
			Current() openai.ChatCompletionChunk
		}
		token string
	}
)

// New builds an OpenAI-compatible backend from options.
func New(opts Options) (*OpenAIBackend, error) {
	if opts.Name == "" {
		return nil, errors.New("llm: backend name is required")
	}
	if opts.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	var ro []option.RequestOption
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		ro = append(ro, option.WithAPIKey(opts.APIKey))
	}
	return &OpenAIBackend{name: opts.Name, client: openai.NewClient(ro...), model: opts.Model}, nil
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) params(prompt string, maxTokens int, jsonMode bool) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Stream implements Backend over the SSE chat completions protocol.
func (b *OpenAIBackend) Stream(ctx context.Context, prompt string, maxTokens int) (TokenStream, error) {
	stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(prompt, maxTokens, false))
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("llm %s: open stream: %w", b.name, err)
	}
	return &openAIStream{inner: stream}, nil
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, prompt string, maxTokens int, jsonMode bool) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, b.params(prompt, maxTokens, jsonMode))
	if err != nil {
		return "", fmt.Errorf("llm %s: complete: %w", b.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm %s: empty completion", b.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// Next advances past empty deltas so every returned token carries content.
func (s *openAIStream) Next() bool {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.token = delta
			return true
		}
	}
	return false
}

func (s *openAIStream) Token() string { return s.token }
func (s *openAIStream) Err() error    { return s.inner.Err() }
func (s *openAIStream) Close() error  { return s.inner.Close() }
