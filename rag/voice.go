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

	"github.com/alexyujiuqiao/IM/llm"
)

// =============================================================================
// Voice Profiles
// =============================================================================

// Voice profile names. The pipeline classifies every user turn into one of
// these and styles replies (and TTS voice selection) accordingly.
const (
	ProfileCharmingGirlfriend = "charming_girlfriend"
	ProfileGentleGirlfriend   = "gentle_girlfriend"
	ProfileTsundereCEO        = "tsundere_ceo"
	ProfileUprightYouth       = "upright_youth"
)

// voiceStyleDirectives maps each profile to the style instruction injected
// into the assembled prompt.
var voiceStyleDirectives = map[string]string{
	ProfileCharmingGirlfriend: "Respond in a charming and playful girlfriend tone, using sweet expressions and light humor.",
	ProfileGentleGirlfriend:   "Respond in a gentle, caring tone, softly comforting and encouraging the user.",
	ProfileTsundereCEO:        "Respond in a confident, slightly teasing CEO-like tone with a hint of tsundere warmth underneath.",
	ProfileUprightYouth:       "Respond in a straightforward, righteous young male tone, honest and spirited.",
}

// StyleDirective returns the prompt directive for a profile, or "" for
// unknown profiles.
func StyleDirective(profile string) string {
	return voiceStyleDirectives[profile]
}

// IsKnownProfile reports whether the name is one of the four profiles.
func IsKnownProfile(profile string) bool {
	_, ok := voiceStyleDirectives[profile]
	return ok
}

// =============================================================================
// Classification
// =============================================================================

const classifyPrompt = "You are an emotion classifier that maps user text to one of four profiles: " +
	"charming_girlfriend (playful, sweet), " +
	"gentle_girlfriend (caring, soft), " +
	"tsundere_ceo (confident, teasing), " +
	"upright_youth (honest, spirited).\n\n" +
	"Read the USER_TEXT delimited by triple backticks and output ONLY the profile name that best fits.\n" +
	"If unsure choose upright_youth.\n\n" +
	"```\n%s\n```"

// ClassifyFromText picks the voice profile that best fits a text message.
//
// Uses an LLM classification call; any failure or unrecognized output falls
// back to upright_youth so the pipeline always has a profile.
func ClassifyFromText(ctx context.Context, client llm.LLMClient, text string) string {
	raw, err := client.Generate(ctx, fmt.Sprintf(classifyPrompt, text), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
		MaxTokens:   llm.IntPtr(10),
	})
	if err != nil {
		slog.Error("Voice profile classification failed", "error", err)
		return ProfileUprightYouth
	}

	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return ProfileUprightYouth
	}
	if IsKnownProfile(fields[0]) {
		return fields[0]
	}
	return ProfileUprightYouth
}

// ClassifyFromEmotion maps an emotion-analysis sentence to a voice profile
// using keyword heuristics. Order matters: gentle cues win over charming,
// which win over authoritative.
func ClassifyFromEmotion(emotionAnalysis string) string {
	if emotionAnalysis == "" {
		return ProfileUprightYouth
	}
	lower := strings.ToLower(emotionAnalysis)

	for _, word := range []string{"soft", "gentle", "caring", "tender"} {
		if strings.Contains(lower, word) {
			return ProfileGentleGirlfriend
		}
	}
	for _, word := range []string{"joy", "playful", "friendly", "charming", "sweet"} {
		if strings.Contains(lower, word) {
			return ProfileCharmingGirlfriend
		}
	}
	for _, word := range []string{"authoritative", "deep", "powerful", "boss", "commanding"} {
		if strings.Contains(lower, word) {
			return ProfileTsundereCEO
		}
	}
	return ProfileUprightYouth
}

// =============================================================================
// Emotion Analysis
// =============================================================================

// NeutralEmotionSummary is used when emotion analysis fails or finds nothing.
const NeutralEmotionSummary = "The speaker's emotional state appears neutral with no strong emotional indicators detected."

const emotionPrompt = `Analyze the emotional content of this transcribed speech and provide a single natural sentence summary.

The summary should include:
- The primary emotion detected (joy, sadness, anger, fear, surprise, etc.)
- Emotional intensity level (mild, moderate, strong)
- Any notable speech patterns or emotional indicators
- The overall emotional context

Write this as a natural, conversational sentence that someone would use to describe the speaker's emotional state.

Transcribed Text: "%s"

Emotional summary (one sentence):`

// AnalyzeEmotion summarizes the emotional content of a transcript in one
// sentence. Failures and empty output yield the neutral summary.
func AnalyzeEmotion(ctx context.Context, client llm.LLMClient, transcript string) string {
	raw, err := client.Generate(ctx, fmt.Sprintf(emotionPrompt, transcript), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.3),
		MaxTokens:   llm.IntPtr(100),
	})
	if err != nil {
		slog.Warn("Emotion analysis failed, using neutral summary", "error", err)
		return NeutralEmotionSummary
	}

	summary := strings.TrimSpace(raw)
	if summary == "" {
		return NeutralEmotionSummary
	}
	return summary
}
