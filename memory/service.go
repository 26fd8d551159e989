// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory keeps per-user conversation memory: rolling histories,
// user profiles, and LLM-generated summaries.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/llm"
)

// DefaultHistoryLimit bounds the per-user rolling history.
const DefaultHistoryLimit = 50

// summaryPrompt condenses a user's recent conversation into a short paragraph.
const summaryPrompt = `Summarize the following conversation in 2-3 sentences, focusing on what the user cares about and any plans or preferences they mentioned.

Conversation:
%s

Summary:`

// Service holds in-process memory state for all users.
//
// # Thread Safety
//
// Service is safe for concurrent use; all state is guarded by a mutex.
type Service struct {
	mu        sync.Mutex
	histories map[string][]datatypes.Message
	profiles  map[string]map[string]string
	limit     int

	llmClient llm.LLMClient
}

// NewService creates a memory service. llmClient may be nil, in which case
// summaries degrade to the most recent exchange.
func NewService(llmClient llm.LLMClient) *Service {
	return &Service{
		histories: make(map[string][]datatypes.Message),
		profiles:  make(map[string]map[string]string),
		limit:     DefaultHistoryLimit,
		llmClient: llmClient,
	}
}

// Process ingests the latest messages for a user and returns the processed
// memory for prompt assembly. It never fails the caller: on summary errors it
// degrades to what it has.
func (s *Service) Process(ctx context.Context, userID string, messages []datatypes.Message) datatypes.MemoryResult {
	s.append(userID, messages)

	history := s.History(userID)

	result := datatypes.MemoryResult{
		Context: renderContext(history),
		Profile: renderProfile(s.Profile(userID)),
	}

	summary, err := s.summarize(ctx, history)
	if err != nil {
		slog.Warn("Memory summarization failed, using recent exchange", "userID", userID, "error", err)
		summary = lastExchange(history)
	}
	result.Summary = summary

	return result
}

// append adds messages to the user's rolling history, trimming to the limit.
func (s *Service) append(userID string, messages []datatypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.histories[userID], messages...)
	if len(h) > s.limit {
		h = h[len(h)-s.limit:]
	}
	s.histories[userID] = h
}

// History returns a copy of the user's rolling history.
func (s *Service) History(userID string) []datatypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histories[userID]
	out := make([]datatypes.Message, len(h))
	copy(out, h)
	return out
}

// Profile returns a copy of the user's profile fields.
func (s *Service) Profile(userID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.profiles[userID]))
	for k, v := range s.profiles[userID] {
		out[k] = v
	}
	return out
}

// UpdateProfile merges fields into the user's profile. Empty values delete
// the field.
func (s *Service) UpdateProfile(userID string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profiles[userID]
	if p == nil {
		p = make(map[string]string)
		s.profiles[userID] = p
	}
	for k, v := range fields {
		if v == "" {
			delete(p, k)
			continue
		}
		p[k] = v
	}
}

// Clear drops all memory state for a user.
func (s *Service) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.histories, userID)
	delete(s.profiles, userID)
}

// Summary produces a summary of the user's history on demand.
func (s *Service) Summary(ctx context.Context, userID string) (string, error) {
	history := s.History(userID)
	if len(history) == 0 {
		return "", nil
	}
	summary, err := s.summarize(ctx, history)
	if err != nil {
		return lastExchange(history), nil
	}
	return summary, nil
}

// summarize asks the LLM for a short conversation summary.
func (s *Service) summarize(ctx context.Context, history []datatypes.Message) (string, error) {
	if s.llmClient == nil {
		return "", fmt.Errorf("no llm client configured")
	}
	if len(history) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf(summaryPrompt, renderContext(history))
	return s.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
		MaxTokens:   llm.IntPtr(150),
	})
}

// renderContext formats history as "User:/Assistant:" lines.
func renderContext(history []datatypes.Message) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case "user":
			b.WriteString("User: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderProfile formats profile fields as "key: value" lines in key order.
func renderProfile(profile map[string]string) string {
	if len(profile) == 0 {
		return ""
	}
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, profile[k]))
	}
	return strings.Join(parts, "\n")
}

// lastExchange returns the most recent user/assistant pair as a fallback
// summary.
func lastExchange(history []datatypes.Message) string {
	if len(history) == 0 {
		return ""
	}
	start := len(history) - 2
	if start < 0 {
		start = 0
	}
	return renderContext(history[start:])
}
