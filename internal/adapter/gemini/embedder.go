package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"deskrag/internal/embed"
)

// Embedder computes embeddings via the Gemini embedding API.
type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Embedder{client: client, model: "gemini-embedding-001"}, nil
}

// Close releases the underlying API client.
func (e *Embedder) Close() error {
	return e.client.Close()
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		if isInputRejection(err) {
			return nil, fmt.Errorf("%w: %v", embed.ErrInputRejected, err)
		}
		return nil, err
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("%w: provider returned no embedding", embed.ErrInputRejected)
	}
	return res.Embedding.Values, nil
}

// isInputRejection distinguishes a permanent refusal of this input from a
// transient provider failure. Retrying the former wastes the attempt budget.
func isInputRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "payload size exceeds") ||
		strings.Contains(msg, "blocked")
}
