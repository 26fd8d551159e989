// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package speech provides audio transcription and speech synthesis for the
// voice chat path.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts audio payloads into text.
type Transcriber interface {
	// Transcribe converts WAV/MP3 audio bytes into a text transcript.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// WhisperTranscriber transcribes audio via the OpenAI Whisper API.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

// NewWhisperTranscriber creates a transcriber around an existing client.
func NewWhisperTranscriber(client *openai.Client) *WhisperTranscriber {
	return &WhisperTranscriber{client: client, model: openai.Whisper1}
}

// Transcribe converts audio bytes into a text transcript.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio.wav",
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return resp.Text, nil
}

// maxAudioFetchBytes caps remote audio downloads at Whisper's upload limit.
const maxAudioFetchBytes = 25 * 1024 * 1024

// FetchAudio downloads remote audio referenced by URL (object-storage uploads
// from the mobile client). The caller owns deciding whether a URL is trusted.
// Payloads over maxAudioFetchBytes are rejected rather than truncated.
func FetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build audio request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio fetch returned status %d", resp.StatusCode)
	}
	body, err := readLimited(resp.Body, maxAudioFetchBytes)
	if err != nil {
		return nil, fmt.Errorf("audio fetch: %w", err)
	}
	return body, nil
}

// readLimited reads r in full, returning an error when it holds more than
// limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("payload exceeds %d byte limit", limit)
	}
	return data, nil
}
