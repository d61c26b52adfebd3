// Package embed defines the embedding provider contract consumed by the
// ingestion worker. Providers live in internal/adapter.
package embed

import (
	"context"
	"errors"
)

// ErrInputRejected marks a permanent, input-specific provider refusal.
// The worker stores the chunk with a null embedding instead of retrying;
// the admin status endpoint surfaces such chunks for backfill.
var ErrInputRejected = errors.New("embedding input rejected by provider")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
