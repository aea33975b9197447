package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopProviderReturnsZeroVector(t *testing.T) {
	p := NewNoopProvider(8)
	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, vec.Slice(), 8)
	for _, v := range vec.Slice() {
		assert.Zero(t, v)
	}
}

func TestOllamaProviderEmptyTextShortCircuits(t *testing.T) {
	// Server must never be hit for empty text.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request for empty text")
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 4)
	vec, err := p.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec.Slice())
}

func TestOllamaProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotContains(t, req.Prompt, "\n", "newlines are flattened")

		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 3)
	vec, err := p.Embed(context.Background(), "find me\nrelevant connections")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec.Slice())
}

func TestOllamaProviderDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 768)
	_, err := p.Embed(context.Background(), "text")
	assert.Error(t, err)
}
