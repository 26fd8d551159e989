// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the chat backend.
//
// This file contains the OpenAI-style request and response types used by the
// chat endpoints, plus the parsing that flattens multimodal message arrays
// into the shape the pipeline consumes. For fact-record types, see facts.go.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100

	// DefaultChatModel is reported in responses when the client omits a model.
	DefaultChatModel = "im-chat"
)

// Input modality labels produced by ParseMessages.
const (
	InputTypeText  = "text"
	InputTypeImage = "image"
	InputTypeAudio = "audio"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized payloads
// are rejected before they reach the pipeline.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Message Types
// =============================================================================

// Message is the flat role/content shape consumed by the LLM clients and the
// pipeline. Multimodal wire messages are flattened into this via ParseMessages.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"maxbytes"`
}

// ChatMessage is the wire shape of a single message. Content is either a JSON
// string or an array of content parts (OpenAI multimodal format).
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of a multimodal content array.
type ContentPart struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	ImageURL *URLRef `json:"image_url,omitempty"`
	AudioURL *URLRef `json:"audio_url,omitempty"`
}

// URLRef wraps the url field of an image_url / audio_url part.
type URLRef struct {
	URL string `json:"url"`
}

// MediaContent is an image or audio payload extracted from a user message.
// Kind is "base64" (Data holds the base64 payload with the data-URL prefix
// stripped), "url" (Data holds a remote object-storage URL), or "raw" (Data
// holds already-fetched bytes). Mime carries the media type from a data-URL
// prefix when one was present.
type MediaContent struct {
	Kind string
	Data string
	Mime string
}

// =============================================================================
// Request / Response Types
// =============================================================================

// ChatRequest is the body accepted by the chat endpoints.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=100"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates the model name if the client omitted it.
func (r *ChatRequest) EnsureDefaults() {
	if r.Model == "" {
		r.Model = DefaultChatModel
	}
}

// ChatChoice is one completion choice in an OpenAI-style response.
type ChatChoice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage carries the assistant reply. Content is interface-typed so the
// audio path can return a content-part array instead of a plain string.
type ChoiceMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ChatUsage is the rough token accounting mirrored from the OpenAI schema.
// Counts are length/4 estimates, not tokenizer output.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse mimics an OpenAI chat completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// NewChatResponse builds an OpenAI-style completion response around a reply.
func NewChatResponse(reply string, messages []ChatMessage, model string) *ChatResponse {
	promptLen := 0
	for _, m := range messages {
		promptLen += len(m.Content)
	}
	return &ChatResponse{
		ID:      fmt.Sprintf("chatcmpl-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      ChoiceMessage{Role: "assistant", Content: reply},
				FinishReason: "stop",
			},
		},
		Usage: ChatUsage{
			PromptTokens:     promptLen / 4,
			CompletionTokens: len(reply) / 4,
			TotalTokens:      (promptLen + len(reply)) / 4,
		},
	}
}

// =============================================================================
// Message Parsing
// =============================================================================

// ParsedMessages is the result of flattening an OpenAI-style message array.
type ParsedMessages struct {
	// LastUserMessage is the text of the most recent user message, or the
	// empty string if the request carried no user text.
	LastUserMessage string

	// History holds the prior turns (both roles) in order, excluding the
	// final user message.
	History []Message

	// InputType is one of InputTypeText, InputTypeImage, InputTypeAudio.
	InputType string

	// Image is set when the last user message carried an image part.
	Image *MediaContent

	// Audio is set when the last user message carried an audio part.
	Audio *MediaContent
}

// ParseMessages flattens the OpenAI messages array sent by the front-end.
//
// User messages may carry plain string content or an array of content parts
// (text, image_url, audio_url). Data URLs are decoded into base64 media
// payloads; object-storage HTTPS URLs are passed through by reference.
// System and tool messages are ignored.
func ParseMessages(messages []ChatMessage) (*ParsedMessages, error) {
	parsed := &ParsedMessages{InputType: InputTypeText}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			var content string
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				// Non-string assistant content (e.g. audio parts echoed back)
				// is not useful as history; skip it.
				continue
			}
			parsed.History = append(parsed.History, Message{Role: "assistant", Content: content})
		case "user":
			if err := parseUserMessage(msg.Content, parsed); err != nil {
				return nil, fmt.Errorf("failed to parse user message: %w", err)
			}
			if parsed.LastUserMessage != "" {
				parsed.History = append(parsed.History, Message{Role: "user", Content: parsed.LastUserMessage})
			}
		}
	}

	// The final user message is the current turn, not history.
	if n := len(parsed.History); n > 0 && parsed.History[n-1].Role == "user" &&
		parsed.History[n-1].Content == parsed.LastUserMessage {
		parsed.History = parsed.History[:n-1]
	}

	return parsed, nil
}

// parseUserMessage handles both string content and content-part arrays.
func parseUserMessage(raw json.RawMessage, parsed *ParsedMessages) error {
	// Each user message starts a fresh utterance; a media-only message must
	// not inherit the text of an earlier turn.
	parsed.LastUserMessage = ""

	var content string
	if err := json.Unmarshal(raw, &content); err == nil {
		parsed.LastUserMessage = content
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return fmt.Errorf("content is neither a string nor a part array: %w", err)
	}

	for _, part := range parts {
		switch part.Type {
		case "text":
			parsed.LastUserMessage = part.Text
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			if media := mediaFromURL(part.ImageURL.URL, "data:image"); media != nil {
				parsed.Image = media
				parsed.InputType = InputTypeImage
			}
		case "audio_url":
			if part.AudioURL == nil {
				continue
			}
			if media := mediaFromURL(part.AudioURL.URL, "data:audio"); media != nil {
				parsed.Audio = media
				parsed.InputType = InputTypeAudio
			}
		}
	}
	return nil
}

// mediaFromURL classifies a media URL as an inline base64 payload or an
// object-storage reference. Returns nil for anything else.
func mediaFromURL(url, dataPrefix string) *MediaContent {
	if strings.HasPrefix(url, dataPrefix) {
		data := url
		mime := ""
		if idx := strings.Index(url, ";"); idx != -1 {
			mime = url[len("data:"):idx]
		}
		if idx := strings.Index(url, ","); idx != -1 {
			data = url[idx+1:]
		}
		return &MediaContent{Kind: "base64", Data: data, Mime: mime}
	}
	if strings.HasPrefix(url, "https://") && strings.Contains(url, "amazonaws.com") {
		return &MediaContent{Kind: "url", Data: url}
	}
	return nil
}
