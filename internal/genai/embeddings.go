package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// embeddingService defines minimal interface for embedding creation.
type embeddingService interface {
	Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error)
}

type openaiEmbeddingService struct {
	client openai.Client
}

func (s *openaiEmbeddingService) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return openai.CreateEmbeddingResponse{}, err
	}
	return *resp, nil
}

// Embedder produces text embeddings for the semantic safety classifier.
type Embedder struct {
	svc   embeddingService
	model openai.EmbeddingModel
}

// NewEmbedder initializes an embedder. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewEmbedder(opts ...Option) (*Embedder, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Embedder{svc: &openaiEmbeddingService{client: cli}, model: openai.EmbeddingModelTextEmbedding3Small}, nil
}

// Embed returns one embedding vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.svc.Create(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		slog.Error("Embedder Embed failed", "error", err, "count", len(texts))
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	slog.Debug("Embedder Embed succeeded", "count", len(texts))
	return vectors, nil
}
