// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
)

// =============================================================================
// ChatRequest Validation Tests
// =============================================================================

func TestChatRequest_Validate_Success(t *testing.T) {
	req := &ChatRequest{
		Model: "im-chat",
		Messages: []ChatMessage{
			{Role: "user", Content: json.RawMessage(`"Hello"`)},
		},
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestChatRequest_Validate_EmptyMessages(t *testing.T) {
	req := &ChatRequest{Model: "im-chat", Messages: []ChatMessage{}}

	if err := req.Validate(); err == nil {
		t.Error("expected error for empty messages, got nil")
	}
}

func TestChatRequest_EnsureDefaults_SetsModel(t *testing.T) {
	req := &ChatRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: json.RawMessage(`"Hello"`)},
		},
	}
	req.EnsureDefaults()

	if req.Model != DefaultChatModel {
		t.Errorf("expected default model %q, got %q", DefaultChatModel, req.Model)
	}
}

// =============================================================================
// NewChatResponse Tests
// =============================================================================

func TestNewChatResponse_Shape(t *testing.T) {
	messages := []ChatMessage{
		{Role: "user", Content: json.RawMessage(`"Hello there"`)},
	}
	resp := NewChatResponse("Hi! How can I help?", messages, "im-chat")

	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("expected chatcmpl- ID prefix, got %q", resp.ID)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("expected object chat.completion, got %q", resp.Object)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "Hi! How can I help?" {
		t.Errorf("unexpected reply content: %v", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason stop, got %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens == 0 {
		t.Error("expected non-zero token estimate")
	}
}

// =============================================================================
// ParseMessages Tests
// =============================================================================

func TestParseMessages_StringContent(t *testing.T) {
	parsed, err := ParseMessages([]ChatMessage{
		{Role: "user", Content: json.RawMessage(`"first question"`)},
		{Role: "assistant", Content: json.RawMessage(`"first answer"`)},
		{Role: "user", Content: json.RawMessage(`"second question"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.LastUserMessage != "second question" {
		t.Errorf("expected last user message, got %q", parsed.LastUserMessage)
	}
	if parsed.InputType != InputTypeText {
		t.Errorf("expected text input, got %q", parsed.InputType)
	}
	if len(parsed.History) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(parsed.History))
	}
	if parsed.History[0].Role != "user" || parsed.History[0].Content != "first question" {
		t.Errorf("unexpected first history turn: %+v", parsed.History[0])
	}
	if parsed.History[1].Role != "assistant" || parsed.History[1].Content != "first answer" {
		t.Errorf("unexpected second history turn: %+v", parsed.History[1])
	}
}

func TestParseMessages_TextPartArray(t *testing.T) {
	parsed, err := ParseMessages([]ChatMessage{
		{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"hello"}]`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.LastUserMessage != "hello" {
		t.Errorf("expected text part content, got %q", parsed.LastUserMessage)
	}
	if len(parsed.History) != 0 {
		t.Errorf("expected empty history, got %d turns", len(parsed.History))
	}
}

func TestParseMessages_AudioDataURL(t *testing.T) {
	parsed, err := ParseMessages([]ChatMessage{
		{Role: "user", Content: json.RawMessage(
			`[{"type":"audio_url","audio_url":{"url":"data:audio/wav;base64,UklGRg=="}}]`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.InputType != InputTypeAudio {
		t.Errorf("expected audio input, got %q", parsed.InputType)
	}
	if parsed.Audio == nil {
		t.Fatal("expected audio payload")
	}
	if parsed.Audio.Kind != "base64" {
		t.Errorf("expected base64 kind, got %q", parsed.Audio.Kind)
	}
	if parsed.Audio.Data != "UklGRg==" {
		t.Errorf("expected data-URL prefix stripped, got %q", parsed.Audio.Data)
	}
	if parsed.Audio.Mime != "audio/wav" {
		t.Errorf("expected mime from data URL, got %q", parsed.Audio.Mime)
	}
}

func TestParseMessages_MediaOnlyFinalMessage(t *testing.T) {
	parsed, err := ParseMessages([]ChatMessage{
		{Role: "user", Content: json.RawMessage(`"how was your day"`)},
		{Role: "assistant", Content: json.RawMessage(`"pretty good!"`)},
		{Role: "user", Content: json.RawMessage(
			`[{"type":"audio_url","audio_url":{"url":"data:audio/wav;base64,UklGRg=="}}]`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The final message carries no text; an earlier turn's text must not
	// leak in as the current utterance.
	if parsed.LastUserMessage != "" {
		t.Errorf("expected empty utterance for media-only message, got %q", parsed.LastUserMessage)
	}
	if parsed.Audio == nil {
		t.Fatal("expected audio payload")
	}
	if len(parsed.History) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(parsed.History))
	}
	if parsed.History[0].Content != "how was your day" {
		t.Errorf("earlier user turn should stay in history, got %+v", parsed.History[0])
	}
}

func TestParseMessages_ImageObjectStorageURL(t *testing.T) {
	parsed, err := ParseMessages([]ChatMessage{
		{Role: "user", Content: json.RawMessage(
			`[{"type":"text","text":"what is this"},{"type":"image_url","image_url":{"url":"https://bucket.s3.amazonaws.com/photo.jpg"}}]`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.InputType != InputTypeImage {
		t.Errorf("expected image input, got %q", parsed.InputType)
	}
	if parsed.Image == nil {
		t.Fatal("expected image payload")
	}
	if parsed.Image.Kind != "url" {
		t.Errorf("expected url kind, got %q", parsed.Image.Kind)
	}
	if parsed.LastUserMessage != "what is this" {
		t.Errorf("expected text part alongside image, got %q", parsed.LastUserMessage)
	}
}

func TestParseMessages_InvalidUserContent(t *testing.T) {
	_, err := ParseMessages([]ChatMessage{
		{Role: "user", Content: json.RawMessage(`42`)},
	})
	if err == nil {
		t.Error("expected error for numeric content, got nil")
	}
}

func TestParseMessages_SkipsNonStringAssistantContent(t *testing.T) {
	parsed, err := ParseMessages([]ChatMessage{
		{Role: "assistant", Content: json.RawMessage(`[{"type":"text","text":"echoed"}]`)},
		{Role: "user", Content: json.RawMessage(`"hi"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed.History) != 0 {
		t.Errorf("expected part-array assistant content skipped, got %d turns", len(parsed.History))
	}
}
