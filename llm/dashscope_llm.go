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
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/alexyujiuqiao/IM/datatypes"
)

// DashScopeClient implements LLMClient against Alibaba's DashScope service,
// which exposes the Qwen models behind an OpenAI-compatible endpoint.
type DashScopeClient struct {
	client *openai.Client
	model  string
}

// NewDashScopeClient builds a Qwen-backed client.
//
// Reads DASHSCOPE_API_KEY and DASHSCOPE_BASE_URL; the model is read from
// DASHSCOPE_MODEL and defaults to qwen-max.
func NewDashScopeClient() (*DashScopeClient, error) {
	apiKey := os.Getenv("DASHSCOPE_API_KEY")
	if apiKey == "" {
		slog.Error("DASHSCOPE_API_KEY environment variable not set")
		return nil, fmt.Errorf("DASHSCOPE_API_KEY environment variable not set")
	}
	baseURL := os.Getenv("DASHSCOPE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		slog.Warn("DASHSCOPE_BASE_URL not set, using default", "url", baseURL)
	}
	model := os.Getenv("DASHSCOPE_MODEL")
	if model == "" {
		model = "qwen-max"
		slog.Warn("DASHSCOPE_MODEL not set, defaulting to qwen-max")
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	slog.Info("Initializing DashScope client", "model", model, "baseURL", baseURL)
	return &DashScopeClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate implements the LLMClient interface for a single prompt.
func (d *DashScopeClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return d.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements the LLMClient interface for a message history.
func (d *DashScopeClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	slog.Debug("Generating text via DashScope", "model", d.model, "messages", len(messages))

	req := openai.ChatCompletionRequest{
		Model:    d.model,
		Messages: toOpenAIMessages(messages),
	}
	applyParams(&req, params)

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("DashScope API call failed", "error", err)
		return "", fmt.Errorf("DashScope API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("DashScope returned no choices")
		return "", fmt.Errorf("DashScope returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
