package llm

import (
	"context"

	"github.com/mohammad-safakhou/askdoc/config"
)

// Provider is the language model interface consumed by the pipeline: one
// completion call and one embedding call. All agent reasoning, question
// completion and tool post-processing go through Generate.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates the configured LLM provider.
func NewProvider(cfg config.LLMConfig) Provider {
	return NewOpenAIClient(cfg)
}
