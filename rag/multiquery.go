// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexyujiuqiao/IM/llm"
)

const multiQueryPrompt = `Rephrase the following question in %d different ways, keeping the meaning the same.
Question: %s
Rephrasings (one per line):`

// GenerateQueries produces up to n query variants for multi-query retrieval.
//
// # Description
//
// The original query is always the first variant. The LLM supplies
// rephrasings, one per line; leading list markers are stripped. The result
// is truncated to n. On LLM failure the original query alone is returned,
// degrading multi-query retrieval to single-query.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - client: The LLM backend.
//   - query: The query to rephrase.
//   - n: Total number of variants wanted, counting the original.
//
// # Outputs
//
//   - []string: At least one element (the original query), at most n.
func GenerateQueries(ctx context.Context, client llm.LLMClient, query string, n int) []string {
	if n < 2 {
		return []string{query}
	}

	raw, err := client.Generate(ctx, fmt.Sprintf(multiQueryPrompt, n, query), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.7),
		MaxTokens:   llm.IntPtr(256),
	})
	if err != nil {
		slog.Error("Multi-query generation failed, using original only", "error", err)
		return []string{query}
	}

	queries := []string{query}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.Trim(strings.TrimSpace(line), "- ")
		if line == "" {
			continue
		}
		queries = append(queries, line)
	}
	if len(queries) > n {
		queries = queries[:n]
	}
	return queries
}
