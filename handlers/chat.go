// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin HTTP handlers for the chat service.
package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/llm"
	"github.com/alexyujiuqiao/IM/middleware"
	"github.com/alexyujiuqiao/IM/observability"
	"github.com/alexyujiuqiao/IM/rag"
	"github.com/alexyujiuqiao/IM/speech"
)

var chatTracer = otel.Tracer("im.handlers")

// backgroundTimeout bounds background pipeline runs spawned by the fast
// text path.
const backgroundTimeout = 2 * time.Minute

// PipelineRunner abstracts the chat pipeline for testing.
type PipelineRunner interface {
	Run(ctx context.Context, req rag.PipelineRequest) (*rag.PipelineResult, error)
}

// Synthesizer abstracts text-to-speech for testing.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceProfile string) ([]byte, error)
}

// ChatHandler serves the chat endpoints.
type ChatHandler struct {
	llmClient llm.LLMClient
	pipeline  PipelineRunner
	synth     Synthesizer
}

// NewChatHandler wires the chat endpoints' dependencies. synth may be nil;
// audio replies then degrade to text.
func NewChatHandler(llmClient llm.LLMClient, pipeline PipelineRunner, synth Synthesizer) *ChatHandler {
	return &ChatHandler{llmClient: llmClient, pipeline: pipeline, synth: synth}
}

// HandleText serves POST /v1/chat/text.
//
// # Description
//
// The text path is latency-optimized: the reply comes from a direct
// completion over the raw conversation, and the full pipeline (extraction,
// retrieval, memory) runs in the background so the next turn benefits from
// it. If the direct completion fails, the pipeline is run synchronously as
// a fallback.
func (h *ChatHandler) HandleText(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleText")
	defer span.End()

	userID := middleware.UserID(c)
	req, parsed, ok := bindChatRequest(c)
	if !ok {
		return
	}
	if parsed.LastUserMessage == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no user message found"})
		return
	}

	slog.Info("Chat request received", "userID", userID, "messages", len(req.Messages))

	conversation := append(append([]datatypes.Message{}, parsed.History...),
		datatypes.Message{Role: "user", Content: parsed.LastUserMessage})

	reply, err := h.llmClient.Chat(ctx, conversation, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Direct completion failed, running pipeline synchronously", "userID", userID, "error", err)
		observability.RecordFallback(datatypes.InputTypeText)

		result, pipeErr := h.pipeline.Run(ctx, rag.PipelineRequest{
			UserID:      userID,
			UserMessage: parsed.LastUserMessage,
			History:     parsed.History,
			InputType:   datatypes.InputTypeText,
		})
		if pipeErr != nil {
			slog.Error("Pipeline fallback also failed", "userID", userID, "error", pipeErr)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "chat completion failed"})
			return
		}
		reply = result.Reply
	} else {
		h.runPipelineInBackground(userID, parsed)
	}

	c.JSON(http.StatusOK, datatypes.NewChatResponse(reply, req.Messages, req.Model))
}

// runPipelineInBackground runs the full pipeline detached from the request
// so fact extraction and memory catch up after the fast reply.
func (h *ChatHandler) runPipelineInBackground(userID string, parsed *datatypes.ParsedMessages) {
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.ActiveBackgroundTasks.Inc()
	}
	go func() {
		defer func() {
			if observability.DefaultMetrics != nil {
				observability.DefaultMetrics.ActiveBackgroundTasks.Dec()
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if _, err := h.pipeline.Run(ctx, rag.PipelineRequest{
			UserID:      userID,
			UserMessage: parsed.LastUserMessage,
			History:     parsed.History,
			InputType:   datatypes.InputTypeText,
		}); err != nil {
			slog.Warn("Background pipeline run failed", "userID", userID, "error", err)
		}
	}()
}

// HandleAudio serves POST /v1/chat/audio.
//
// # Description
//
// The audio payload is run through the full pipeline (transcription, emotion
// analysis, retrieval) and the reply is synthesized back to speech using the
// voice mapped to the classified profile. TTS failure degrades to a JSON
// text response; pipeline failure falls back to a direct completion.
func (h *ChatHandler) HandleAudio(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleAudio")
	defer span.End()

	userID := middleware.UserID(c)
	req, parsed, ok := bindChatRequest(c)
	if !ok {
		return
	}
	if parsed.Audio == nil && parsed.LastUserMessage == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no user message found"})
		return
	}

	slog.Info("Audio chat request received", "userID", userID, "messages", len(req.Messages))

	if err := resolveAudioURL(ctx, parsed); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to fetch audio"})
		return
	}

	result, err := h.pipeline.Run(ctx, rag.PipelineRequest{
		UserID:      userID,
		UserMessage: parsed.LastUserMessage,
		History:     parsed.History,
		InputType:   datatypes.InputTypeAudio,
		Audio:       parsed.Audio,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Audio pipeline failed, falling back to direct completion", "userID", userID, "error", err)
		observability.RecordFallback(datatypes.InputTypeAudio)
		h.respondWithFallback(c, ctx, req, parsed)
		return
	}

	audio := h.synthesize(ctx, result.Reply, result.VoiceProfile)
	if audio == nil {
		c.JSON(http.StatusOK, datatypes.NewChatResponse(result.Reply, req.Messages, req.Model))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=response.mp3")
	c.Header("X-Transcription", headerSafe(result.Transcription))
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

// HandleMobile serves POST /v1/chat/mobile, the unified text/image/audio
// entry point for mobile clients.
//
// For audio input the assistant message carries both the reply text and a
// data-URL audio part so the client can play it directly.
func (h *ChatHandler) HandleMobile(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleMobile")
	defer span.End()

	userID := middleware.UserID(c)
	req, parsed, ok := bindChatRequest(c)
	if !ok {
		return
	}
	if parsed.LastUserMessage == "" && parsed.InputType == datatypes.InputTypeText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no user message found"})
		return
	}

	switch parsed.InputType {
	case datatypes.InputTypeAudio:
		if err := resolveAudioURL(ctx, parsed); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to fetch audio"})
			return
		}
		result, err := h.pipeline.Run(ctx, rag.PipelineRequest{
			UserID:      userID,
			UserMessage: parsed.LastUserMessage,
			History:     parsed.History,
			InputType:   datatypes.InputTypeAudio,
			Audio:       parsed.Audio,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordFallback(datatypes.InputTypeAudio)
			h.respondWithFallback(c, ctx, req, parsed)
			return
		}

		resp := datatypes.NewChatResponse(result.Reply, req.Messages, req.Model)
		if audio := h.synthesize(ctx, result.Reply, result.VoiceProfile); audio != nil {
			resp.Choices[0].Message.Content = []datatypes.ContentPart{
				{Type: "text", Text: result.Reply},
				{Type: "audio_url", AudioURL: &datatypes.URLRef{
					URL: "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio),
				}},
			}
		}
		c.JSON(http.StatusOK, resp)

	default:
		// Text and image both route through the synchronous pipeline here;
		// image turns skip retrieval inside the pipeline itself.
		result, err := h.pipeline.Run(ctx, rag.PipelineRequest{
			UserID:      userID,
			UserMessage: parsed.LastUserMessage,
			History:     parsed.History,
			InputType:   parsed.InputType,
			Image:       parsed.Image,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordFallback(parsed.InputType)
			h.respondWithFallback(c, ctx, req, parsed)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewChatResponse(result.Reply, req.Messages, req.Model))
	}
}

// respondWithFallback answers with a direct completion after a pipeline
// failure. If the completion also fails, a generic error is returned.
func (h *ChatHandler) respondWithFallback(c *gin.Context, ctx context.Context, req *datatypes.ChatRequest, parsed *datatypes.ParsedMessages) {
	message := parsed.LastUserMessage
	if message == "" {
		message = "[audio]"
	}
	conversation := append(append([]datatypes.Message{}, parsed.History...),
		datatypes.Message{Role: "user", Content: message})

	reply, err := h.llmClient.Chat(ctx, conversation, llm.GenerationParams{})
	if err != nil {
		slog.Error("Fallback completion failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat completion failed"})
		return
	}
	c.JSON(http.StatusOK, datatypes.NewChatResponse(reply, req.Messages, req.Model))
}

// synthesize renders the reply as speech, returning nil on any failure so
// callers can degrade to text.
func (h *ChatHandler) synthesize(ctx context.Context, reply, voiceProfile string) []byte {
	if h.synth == nil {
		return nil
	}
	audio, err := h.synth.Synthesize(ctx, reply, voiceProfile)
	if err != nil {
		slog.Warn("Speech synthesis failed, returning text", "error", err)
		return nil
	}
	return audio
}

// bindChatRequest binds and validates the request body, returning the parsed
// message array. Responds with 400 and returns ok=false on any failure.
func bindChatRequest(c *gin.Context) (*datatypes.ChatRequest, *datatypes.ParsedMessages, bool) {
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		slog.Error("Failed to parse chat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, nil, false
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return nil, nil, false
	}

	parsed, err := datatypes.ParseMessages(req.Messages)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid messages"})
		return nil, nil, false
	}
	return &req, parsed, true
}

// resolveAudioURL downloads audio referenced by URL so the pipeline always
// sees raw bytes. Base64 payloads pass through untouched.
func resolveAudioURL(ctx context.Context, parsed *datatypes.ParsedMessages) error {
	if parsed.Audio == nil || parsed.Audio.Kind != "url" {
		return nil
	}
	raw, err := speech.FetchAudio(ctx, parsed.Audio.Data)
	if err != nil {
		return err
	}
	parsed.Audio = &datatypes.MediaContent{Kind: "raw", Data: string(raw)}
	return nil
}

// headerSafe makes a transcript usable as an HTTP header value.
func headerSafe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
