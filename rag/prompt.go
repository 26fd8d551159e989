// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"fmt"
	"strings"

	"github.com/alexyujiuqiao/IM/datatypes"
)

// Placeholder strings used when a context block has nothing to say. The
// assembled prompt always carries every block so the model sees a stable
// structure.
const (
	NoPreviousContext      = "No previous context available."
	LimitedRelevantContext = "Relevant Context: Limited information available."
	RelevantContextError   = "Relevant Context: Error retrieving context information."
	NoSemanticContext      = "Semantic Context: No specific context found for this message."
	SemanticContextError   = "Semantic Context: Error retrieving context."
)

// BuildConversationContext renders up to the last 3 question/answer pairs as
// compact context for fact extraction.
func BuildConversationContext(history []datatypes.Message) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}

	var parts []string
	for i := 0; i+1 < len(recent); i += 2 {
		parts = append(parts, fmt.Sprintf("User: %s\nAssistant: %s", recent[i].Content, recent[i+1].Content))
	}
	return strings.Join(parts, "\n")
}

// BuildRelevantContext formats fused fact matches as a bulleted context block.
func BuildRelevantContext(matches []datatypes.RetrievedMatch) string {
	if len(matches) == 0 {
		return NoPreviousContext
	}

	var parts []string
	for _, m := range matches {
		if text := m.Record.ResolveText(); text != "" {
			parts = append(parts, "• "+text)
		}
	}
	if len(parts) == 0 {
		return LimitedRelevantContext
	}
	return "Relevant Context:\n" + strings.Join(parts, "\n")
}

// BuildSemanticContext formats direct-search matches above the certainty
// threshold as a bulleted context block.
func BuildSemanticContext(matches []datatypes.RetrievedMatch, threshold float64) string {
	var parts []string
	for _, m := range matches {
		if m.Score <= threshold {
			continue
		}
		if text := m.Record.ResolveText(); text != "" {
			parts = append(parts, "• "+text)
		}
	}
	if len(parts) == 0 {
		return NoSemanticContext
	}
	return "Semantic Context:\n" + strings.Join(parts, "\n")
}

// PromptInputs carries every block that feeds the assembled prompt.
type PromptInputs struct {
	MemoryContext   string
	MemorySummary   string
	UserProfile     string
	RelevantContext string
	SemanticContext string
	History         []datatypes.Message
	UserMessage     string
	VoiceDirective  string
}

// BuildPrompt assembles the final completion prompt.
//
// # Description
//
// Sections appear in a fixed order: memory context, memory summary, user
// profile, relevant context, semantic context, recent conversation, the
// current message, the response instructions, and finally the voice style
// directive. Only the trailing window of history is rendered.
func BuildPrompt(in PromptInputs, historyWindow int) string {
	var b strings.Builder

	b.WriteString("You are a helpful AI assistant with access to conversation context, memory, and history.\n\n")

	b.WriteString("Memory Context:\n")
	b.WriteString(in.MemoryContext)
	b.WriteString("\n\n")

	b.WriteString("Memory Summary:\n")
	b.WriteString(in.MemorySummary)
	b.WriteString("\n\n")

	b.WriteString("User Profile:\n")
	b.WriteString(in.UserProfile)
	b.WriteString("\n\n")

	b.WriteString(in.RelevantContext)
	b.WriteString("\n\n")

	b.WriteString(in.SemanticContext)
	b.WriteString("\n\n")

	b.WriteString("Recent Conversation:\n")
	b.WriteString(formatHistory(in.History, historyWindow))
	b.WriteString("\n\n")

	b.WriteString("Current User Message:\n")
	b.WriteString(in.UserMessage)
	b.WriteString("\n\n")

	b.WriteString(`Instructions:
1. Use the relevant context and memory to provide personalized responses
2. Reference semantic context when appropriate for better understanding
3. Maintain conversation continuity and flow
4. Be helpful, empathetic, and engaging
5. If the user asks about something you don't know, say so rather than guessing`)
	b.WriteString("\n\n")

	if in.VoiceDirective != "" {
		b.WriteString(in.VoiceDirective)
		b.WriteString("\n\n")
	}

	b.WriteString("Your response:")
	return b.String()
}
