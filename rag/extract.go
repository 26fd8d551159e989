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
	"strings"

	"github.com/alexyujiuqiao/IM/llm"
)

const emotionalContextMarker = "[Emotional context:"

// StripEmotionalContext splits a message into its clean text and any embedded
// emotional annotation.
//
// The audio path appends "[Emotional context: ...]" to transcripts; extraction
// feeds the annotation to the LLM as a separate field rather than as part of
// the message text.
func StripEmotionalContext(text string) (clean, emotion string) {
	start := strings.Index(text, emotionalContextMarker)
	if start == -1 {
		return text, ""
	}
	end := strings.Index(text[start:], "]")
	if end == -1 {
		return text, ""
	}
	end += start

	emotion = strings.TrimSpace(text[start+len(emotionalContextMarker) : end])
	clean = strings.TrimSpace(strings.TrimSpace(text[:start]) + text[end+1:])
	return clean, emotion
}

// AnnotateEmotionalContext appends an emotional annotation to a transcript.
// Empty annotations leave the text unchanged.
func AnnotateEmotionalContext(text, emotion string) string {
	if emotion == "" {
		return text
	}
	return fmt.Sprintf("%s [Emotional context: %s]", text, emotion)
}

const extractPromptHeader = "Extract key information from the user message and summarize it in ONE natural sentence. " +
	"Include: who (people mentioned), what (main event/action), when (time references), " +
	"where (locations), why (purpose/intent), and emotional state. " +
	"Make it conversational and natural, like you're describing what the user said to someone else."

// ExtractKeyInfo condenses a user message into one natural sentence of key
// facts.
//
// # Description
//
// The sentence covers who, what, when, where, why, and emotional state, in a
// form suitable for embedding and later retrieval. Any embedded emotional
// annotation is stripped from the message and passed as a separate prompt
// field. Conversation context, when present, disambiguates references.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - client: The LLM backend.
//   - text: The user message, possibly carrying an emotional annotation.
//   - conversationContext: Recent Q&A pairs, may be empty.
//
// # Outputs
//
//   - string: The extracted sentence.
//   - error: Non-nil if the LLM call fails or returns empty output.
func ExtractKeyInfo(ctx context.Context, client llm.LLMClient, text, conversationContext string) (string, error) {
	clean, emotion := StripEmotionalContext(text)

	var b strings.Builder
	b.WriteString(extractPromptHeader)
	if conversationContext != "" {
		b.WriteString("\n\nConversation Context: ")
		b.WriteString(conversationContext)
	}
	if emotion != "" {
		b.WriteString("\n\nEmotional Context: ")
		b.WriteString(emotion)
	}
	b.WriteString("\n\nUser message: ")
	b.WriteString(clean)
	b.WriteString("\n\nExtracted information (one sentence):")

	extracted, err := client.Generate(ctx, b.String(), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
		MaxTokens:   llm.IntPtr(200),
	})
	if err != nil {
		return "", fmt.Errorf("fact extraction failed: %w", err)
	}

	extracted = strings.TrimSpace(extracted)
	if extracted == "" {
		return "", fmt.Errorf("fact extraction returned empty output")
	}
	return extracted, nil
}
