// Package memory implements project-scoped long-term memory: embedding,
// storage, cosine retrieval with importance decay, and post-run compaction
// summaries.
package memory

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
)

// Embedder turns text into a vector. Retrieval degrades to an empty result
// when no embedder is configured.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAIEmbedder embeds via OpenAI's embedding endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. Model defaults to
// text-embedding-3-small (1536 dimensions).
func NewOpenAIEmbedder(apiKey, baseURL, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, nexuserr.New(nexuserr.CodeConfig, "embedding API key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	switch e.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, nexuserr.New(nexuserr.CodeInternal, "no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
