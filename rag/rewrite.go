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

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/llm"
)

const rewritePrompt = `Rewrite the question for search while keeping its meaning and key terms intact.
If the conversation history is empty, DO NOT change the query.
Use conversation history only if necessary, and avoid extending the query with your own knowledge.
If no changes are needed, output the current question as is.

Conversation history:
%s

User Query: %s
Rewritten Query:`

// RewriteQuery resolves pronouns and references in a follow-up query using
// recent conversation history.
//
// # Description
//
// With empty history the query is returned unchanged without an LLM call.
// On LLM failure the original query is returned so retrieval can proceed;
// rewriting is an optimization, never a gate.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - client: The LLM backend.
//   - query: The user's current message.
//   - history: Recent conversation, newest last. Only the trailing window
//     messages are used.
//   - window: How many trailing messages to include.
//
// # Outputs
//
//   - string: The rewritten query, or the original on skip/failure.
func RewriteQuery(ctx context.Context, client llm.LLMClient, query string, history []datatypes.Message, window int) string {
	if len(history) == 0 {
		return query
	}

	rewritten, err := client.Generate(ctx, fmt.Sprintf(rewritePrompt, formatHistory(history, window), query), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
		MaxTokens:   llm.IntPtr(100),
	})
	if err != nil {
		slog.Error("Query rewrite failed, using original", "error", err)
		return query
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	slog.Info("Query rewritten", "original", query, "rewritten", rewritten)
	return rewritten
}

// formatHistory renders the trailing window of history as "User:/Assistant:"
// lines. Roles other than user and assistant are skipped.
func formatHistory(history []datatypes.Message, window int) string {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	var parts []string
	for _, m := range history {
		switch m.Role {
		case "user":
			parts = append(parts, "User: "+m.Content)
		case "assistant":
			parts = append(parts, "Assistant: "+m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
