// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/alexyujiuqiao/IM/datatypes"
)

// VisionClient is implemented by backends that accept an image alongside the
// conversation. Callers type-assert it off an LLMClient and fall back to a
// text-only completion when the backend does not support it.
type VisionClient interface {
	ChatWithImage(ctx context.Context, messages []datatypes.Message, image *datatypes.MediaContent, params GenerationParams) (string, error)
}

// ChatWithImage implements VisionClient for OpenAI's multimodal models.
func (o *OpenAIClient) ChatWithImage(ctx context.Context, messages []datatypes.Message, image *datatypes.MediaContent, params GenerationParams) (string, error) {
	slog.Debug("Generating multimodal completion via OpenAI", "model", o.model, "messages", len(messages))
	return chatWithImage(ctx, o.client, o.model, messages, image, params)
}

// ChatWithImage implements VisionClient for the Qwen vision models behind
// DashScope's OpenAI-compatible endpoint.
func (d *DashScopeClient) ChatWithImage(ctx context.Context, messages []datatypes.Message, image *datatypes.MediaContent, params GenerationParams) (string, error) {
	slog.Debug("Generating multimodal completion via DashScope", "model", d.model, "messages", len(messages))
	return chatWithImage(ctx, d.client, d.model, messages, image, params)
}

func chatWithImage(ctx context.Context, client *openai.Client, model string, messages []datatypes.Message, image *datatypes.MediaContent, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: visionMessages(messages, image),
	}
	applyParams(&req, params)

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("Multimodal completion failed", "error", err)
		return "", fmt.Errorf("multimodal completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("multimodal completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// visionMessages converts the conversation into SDK messages, attaching the
// image to the final user turn as a content-part array.
func visionMessages(messages []datatypes.Message, image *datatypes.MediaContent) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	last := len(messages) - 1
	for i, m := range messages {
		if i == last && m.Role == "user" {
			parts := []openai.ChatMessagePart{}
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: imageURL(image)},
			})
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// imageURL reconstructs a URL the completion API accepts: remote references
// pass through, inline payloads become data URLs again.
func imageURL(image *datatypes.MediaContent) string {
	if image.Kind == "url" {
		return image.Data
	}
	mime := image.Mime
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, image.Data)
}
