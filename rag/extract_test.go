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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripEmotionalContext(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantClean   string
		wantEmotion string
	}{
		{
			name:        "annotation at end",
			input:       "I got the job! [Emotional context: The speaker sounds overjoyed.]",
			wantClean:   "I got the job!",
			wantEmotion: "The speaker sounds overjoyed.",
		},
		{
			name:        "no annotation",
			input:       "just a plain message",
			wantClean:   "just a plain message",
			wantEmotion: "",
		},
		{
			name:        "unterminated annotation left intact",
			input:       "hello [Emotional context: truncated",
			wantClean:   "hello [Emotional context: truncated",
			wantEmotion: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, emotion := StripEmotionalContext(tt.input)
			assert.Equal(t, tt.wantClean, clean)
			assert.Equal(t, tt.wantEmotion, emotion)
		})
	}
}

func TestAnnotateEmotionalContext_RoundTrip(t *testing.T) {
	annotated := AnnotateEmotionalContext("see you at five", "mild excitement")

	clean, emotion := StripEmotionalContext(annotated)
	assert.Equal(t, "see you at five", clean)
	assert.Equal(t, "mild excitement", emotion)
}

func TestExtractKeyInfo_PromptCarriesContextAndEmotion(t *testing.T) {
	client := newMockLLM().respondTo("Extracted information",
		"The user is meeting their sister at the park at 5pm and feels excited.")

	got, err := ExtractKeyInfo(context.Background(), client,
		"I'm meeting my sister at the park at 5pm [Emotional context: excited]",
		"User: hello\nAssistant: hi")

	require.NoError(t, err)
	assert.Equal(t, "The user is meeting their sister at the park at 5pm and feels excited.", got)

	prompt := client.promptContaining("Extracted information")
	assert.Contains(t, prompt, "Conversation Context: User: hello")
	assert.Contains(t, prompt, "Emotional Context: excited")
	assert.Contains(t, prompt, "User message: I'm meeting my sister at the park at 5pm")
	assert.NotContains(t, prompt, "[Emotional context:")
}

func TestExtractKeyInfo_ErrorPropagates(t *testing.T) {
	client := newMockLLM()
	client.err = fmt.Errorf("model unavailable")

	_, err := ExtractKeyInfo(context.Background(), client, "hello", "")
	assert.Error(t, err)
}

func TestExtractKeyInfo_EmptyOutputIsError(t *testing.T) {
	client := newMockLLM().respondTo("Extracted information", "   ")

	_, err := ExtractKeyInfo(context.Background(), client, "hello", "")
	assert.Error(t, err)
}
