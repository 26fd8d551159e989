// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/llm"
)

// mockLLM routes prompts to canned responses by substring match, recording
// every prompt it sees.
type mockLLM struct {
	mu        sync.Mutex
	responses map[string]string // prompt substring -> response
	fallback  string
	err       error
	prompts   []string
}

func newMockLLM() *mockLLM {
	return &mockLLM{responses: make(map[string]string), fallback: "ok"}
}

func (m *mockLLM) respondTo(substring, response string) *mockLLM {
	m.responses[substring] = response
	return m
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	for substring, response := range m.responses {
		if strings.Contains(prompt, substring) {
			return response, nil
		}
	}
	return m.fallback, nil
}

func (m *mockLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	return m.Generate(ctx, prompt, params)
}

func (m *mockLLM) promptContaining(substring string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prompts {
		if strings.Contains(p, substring) {
			return p
		}
	}
	return ""
}

// mockStore is an in-memory FactStore keyed by user. Queries return stored
// facts in insertion order with descending synthetic scores.
type mockStore struct {
	mu       sync.Mutex
	facts    map[string][]datatypes.FactRecord
	profiles map[string]string
	queryErr error

	// scores overrides the synthetic score per fact index when set.
	scores []float64
}

func newMockStore() *mockStore {
	return &mockStore{
		facts:    make(map[string][]datatypes.FactRecord),
		profiles: make(map[string]string),
	}
}

func (m *mockStore) UpsertFact(ctx context.Context, record datatypes.FactRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[record.UserID] = append(m.facts[record.UserID], record)
	return record.FactKey(), nil
}

func (m *mockStore) UpsertVoiceProfile(ctx context.Context, userID, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = profile
	return nil
}

func (m *mockStore) QueryByText(ctx context.Context, userID, recordType, query string, topK int) ([]datatypes.RetrievedMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	var matches []datatypes.RetrievedMatch
	for i, record := range m.facts[userID] {
		if len(matches) >= topK {
			break
		}
		score := 0.9 - 0.05*float64(i)
		if i < len(m.scores) {
			score = m.scores[i]
		}
		matches = append(matches, datatypes.RetrievedMatch{
			ID:     record.FactKey(),
			Score:  score,
			Record: record,
		})
	}
	return matches, nil
}

func (m *mockStore) GetVoiceProfile(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID], nil
}

func (m *mockStore) storedFacts(userID string) []datatypes.FactRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datatypes.FactRecord, len(m.facts[userID]))
	copy(out, m.facts[userID])
	return out
}

// mockMemory returns a fixed MemoryResult and records processed messages.
type mockMemory struct {
	mu     sync.Mutex
	result datatypes.MemoryResult
	calls  [][]datatypes.Message
}

func (m *mockMemory) Process(ctx context.Context, userID string, messages []datatypes.Message) datatypes.MemoryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	return m.result
}

// mockVisionLLM extends mockLLM with an image-capable completion path,
// recording the conversation and image it receives.
type mockVisionLLM struct {
	*mockLLM
	reply    string
	image    *datatypes.MediaContent
	messages []datatypes.Message
}

func (m *mockVisionLLM) ChatWithImage(ctx context.Context, messages []datatypes.Message, image *datatypes.MediaContent, params llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = messages
	m.image = image
	return m.reply, nil
}

// mockTranscriber returns a fixed transcript.
type mockTranscriber struct {
	transcript string
	err        error
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.transcript, nil
}
