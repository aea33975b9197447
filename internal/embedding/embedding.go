// Package embedding provides vector embedding generation for candidate
// retrieval.
//
// Defines a Provider interface with Ollama, OpenAI, and noop
// implementations, selected by configuration. The interface allows swapping
// providers without changing consumers.
package embedding

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// Provider generates vector embeddings from text.
//
// Contract: dimensionality is fixed per provider, and empty text yields the
// zero vector without a backend call.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// ZeroVector returns the all-zero vector of the given dimensionality.
func ZeroVector(dims int) pgvector.Vector {
	return pgvector.NewVector(make([]float32, dims))
}

// NoopProvider returns zero vectors. Used when no backend is configured.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns zero vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int { return p.dims }

// Embed returns the zero vector.
func (p *NoopProvider) Embed(context.Context, string) (pgvector.Vector, error) {
	return ZeroVector(p.dims), nil
}
