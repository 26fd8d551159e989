// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package speech

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// Synthesizer converts reply text into spoken audio.
type Synthesizer interface {
	// Synthesize renders text as MP3 audio using the voice mapped to the
	// given voice profile.
	Synthesize(ctx context.Context, text, voiceProfile string) ([]byte, error)
}

// VoiceFor maps a voice profile to a TTS voice name. Unknown profiles get the
// neutral default.
func VoiceFor(profile string) openai.SpeechVoice {
	switch profile {
	case "charming_girlfriend":
		return openai.VoiceNova
	case "gentle_girlfriend":
		return openai.VoiceShimmer
	case "tsundere_ceo":
		return openai.VoiceOnyx
	case "upright_youth":
		return openai.VoiceEcho
	default:
		return openai.VoiceAlloy
	}
}

// OpenAISynthesizer renders speech via the OpenAI TTS API.
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISynthesizer creates a synthesizer around an existing client.
func NewOpenAISynthesizer(client *openai.Client) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: client, model: openai.TTSModel1}
}

// Synthesize renders text as MP3 audio.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voiceProfile string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: s.model,
		Input: text,
		Voice: VoiceFor(voiceProfile),
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}
