// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embedding provides text-to-vector conversion for semantic search.
package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Provider defines the interface for computing text embeddings.
//
// # Description
//
// Provider wraps calls to the embedding model to convert text into vector
// representations for semantic search. This abstraction allows for easy
// mocking in tests and swapping embedding backends.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes a vector embedding for the given text.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and deadlines.
	//   - text: The text to embed. Must be valid UTF-8.
	//
	// # Outputs
	//
	//   - []float32: The embedding vector with dimension matching the model.
	//   - error: Non-nil if embedding fails (network error, model error).
	Embed(ctx context.Context, text string) ([]float32, error)
}

// =============================================================================
// OpenAI Embedder
// =============================================================================

// DefaultEmbeddingModel is used when EMBEDDING_MODEL is unset.
const DefaultEmbeddingModel = "text-embedding-3-large"

// OpenAIEmbedder computes embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder from environment configuration.
//
// Reads OPENAI_API_KEY (with a /run/secrets/openai_api_key fallback for
// container deployments) and EMBEDDING_MODEL.
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = DefaultEmbeddingModel
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewOpenAIEmbedderWithClient creates an embedder around an existing client.
// Useful when the LLM backend and embedder share credentials.
func NewOpenAIEmbedderWithClient(client *openai.Client, model string) *OpenAIEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{client: client, model: model}
}

// Embed computes a vector embedding for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}
