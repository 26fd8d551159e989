// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/llm"
	"github.com/alexyujiuqiao/IM/observability"
)

var tracer = otel.Tracer("im.rag")

// TranscriptionFailedPlaceholder replaces the user utterance when speech
// recognition fails. The turn still runs end to end on it.
const TranscriptionFailedPlaceholder = "[Audio transcription failed]"

// PipelineRequest carries one user turn into the pipeline.
type PipelineRequest struct {
	UserID      string
	UserMessage string
	History     []datatypes.Message

	// InputType is one of the datatypes.InputType* constants.
	InputType string

	// Audio is set for audio input: either raw bytes already fetched by the
	// handler or a base64 payload from the request body.
	Audio *datatypes.MediaContent

	// Image is set for image input; image turns skip retrieval and go
	// straight to the completion model.
	Image *datatypes.MediaContent
}

// PipelineResult is the pipeline's reply plus the classified voice profile.
type PipelineResult struct {
	Reply         string
	VoiceProfile  string
	Transcription string
}

// Pipeline orchestrates one conversational turn: voice classification, query
// rewriting, fact extraction and persistence, multi-query retrieval with rank
// fusion, prompt assembly, and the final completion.
//
// # Thread Safety
//
// Pipeline is safe for concurrent use; it holds no per-request state.
type Pipeline struct {
	llmClient   llm.LLMClient
	store       FactStore
	memory      MemoryProcessor
	transcriber Transcriber
	config      Config
}

// NewPipeline wires the pipeline's dependencies. transcriber may be nil if
// the deployment has no audio path.
func NewPipeline(llmClient llm.LLMClient, store FactStore, memory MemoryProcessor, transcriber Transcriber, config Config) *Pipeline {
	return &Pipeline{
		llmClient:   llmClient,
		store:       store,
		memory:      memory,
		transcriber: transcriber,
		config:      validateConfig(config),
	}
}

// Run executes the full pipeline for one user turn.
//
// # Description
//
// Stages, in order:
//
//  1. Memory processing (degrades to empty memory on failure).
//  2. Input handling: audio is transcribed, emotion-analyzed, and annotated;
//     the voice profile is classified and persisted for both modalities.
//  3. Query rewriting against recent history.
//  4. Fact extraction from the message, persisted to the vector store.
//  5. Relevant-context retrieval: multi-query search fused with reciprocal
//     rank fusion.
//  6. Semantic-context retrieval: direct search filtered by certainty.
//  7. Prompt assembly and the final completion call.
//  8. The reply is folded back into memory.
//
// Retrieval, transcription, and persistence stages degrade to placeholders
// on failure; only a failed completion fails the run.
func (p *Pipeline) Run(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "PipelineRun")
	defer span.End()

	slog.Info("Starting chat pipeline", "userID", req.UserID, "inputType", req.InputType)
	result := &PipelineResult{}

	// 1. Memory processing.
	memoryMessages := append(append([]datatypes.Message{}, req.History...),
		datatypes.Message{Role: "user", Content: req.UserMessage})
	memResult := p.processMemory(ctx, req.UserID, memoryMessages)

	// Image turns bypass rewriting, extraction, and retrieval entirely: the
	// content goes straight to the completion model.
	if req.InputType == datatypes.InputTypeImage {
		return p.runImagePassthrough(ctx, req)
	}

	// 2. Input handling and voice classification.
	userMessage := req.UserMessage
	var voiceProfile string

	switch req.InputType {
	case datatypes.InputTypeAudio:
		transcript, emotion, err := p.handleAudio(ctx, req.Audio)
		if err != nil {
			// A failed transcription degrades the turn, it never aborts it.
			span.RecordError(err)
			slog.Warn("Audio processing failed, substituting placeholder", "userID", req.UserID, "error", err)
			transcript, emotion = TranscriptionFailedPlaceholder, ""
		}
		result.Transcription = transcript
		voiceProfile = ClassifyFromEmotion(emotion)
		if emotion == "" {
			userMessage = transcript
		} else {
			userMessage = AnnotateEmotionalContext(transcript, emotion)
		}
	default:
		voiceProfile = p.timedStage("classify", func() string {
			return ClassifyFromText(ctx, p.llmClient, userMessage)
		})
	}
	result.VoiceProfile = voiceProfile

	if p.store != nil {
		if err := p.store.UpsertVoiceProfile(ctx, req.UserID, voiceProfile); err != nil {
			slog.Warn("Failed to persist voice profile", "userID", req.UserID, "error", err)
		}
	}

	// 3. Query rewriting.
	start := time.Now()
	rewritten := RewriteQuery(ctx, p.llmClient, userMessage, req.History, p.config.HistoryWindow)
	observability.ObserveStage("rewrite", time.Since(start).Seconds())

	// 4. Fact extraction and persistence.
	p.extractAndStore(ctx, req.UserID, userMessage, req.History)

	// 5. Relevant context via multi-query retrieval with rank fusion.
	start = time.Now()
	relevantContext := p.buildRelevantContext(ctx, req.UserID, rewritten)
	observability.ObserveStage("retrieve_relevant", time.Since(start).Seconds())

	// 6. Semantic context via direct search.
	start = time.Now()
	semanticContext := p.buildSemanticContext(ctx, req.UserID, rewritten)
	observability.ObserveStage("retrieve_semantic", time.Since(start).Seconds())

	// 7. Prompt assembly and completion.
	prompt := BuildPrompt(PromptInputs{
		MemoryContext:   memResult.Context,
		MemorySummary:   memResult.Summary,
		UserProfile:     memResult.Profile,
		RelevantContext: relevantContext,
		SemanticContext: semanticContext,
		History:         req.History,
		UserMessage:     userMessage,
		VoiceDirective:  StyleDirective(voiceProfile),
	}, p.config.HistoryWindow)

	start = time.Now()
	reply, err := p.llmClient.Generate(ctx, prompt, llm.GenerationParams{})
	observability.ObserveStage("completion", time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		observability.RecordRequest(req.InputType, "error")
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	result.Reply = reply

	// 8. Fold the exchange back into memory.
	p.processMemory(ctx, req.UserID, append(memoryMessages,
		datatypes.Message{Role: "assistant", Content: reply}))

	observability.RecordRequest(req.InputType, "success")
	slog.Info("Chat pipeline completed", "userID", req.UserID, "voiceProfile", voiceProfile)
	return result, nil
}

// runImagePassthrough completes an image turn without retrieval. When the
// backend implements llm.VisionClient the image rides along with the
// conversation; otherwise only the accompanying text is sent.
func (p *Pipeline) runImagePassthrough(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "ImagePassthrough")
	defer span.End()

	conversation := append(append([]datatypes.Message{}, req.History...),
		datatypes.Message{Role: "user", Content: req.UserMessage})

	start := time.Now()
	var reply string
	var err error
	if vc, ok := p.llmClient.(llm.VisionClient); ok && req.Image != nil {
		reply, err = vc.ChatWithImage(ctx, conversation, req.Image, llm.GenerationParams{})
	} else {
		reply, err = p.llmClient.Chat(ctx, conversation, llm.GenerationParams{})
	}
	observability.ObserveStage("completion", time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		observability.RecordRequest(req.InputType, "error")
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	p.processMemory(ctx, req.UserID, append(append([]datatypes.Message{}, req.History...),
		datatypes.Message{Role: "user", Content: req.UserMessage},
		datatypes.Message{Role: "assistant", Content: reply}))

	observability.RecordRequest(req.InputType, "success")
	slog.Info("Image turn completed", "userID", req.UserID)
	return &PipelineResult{Reply: reply}, nil
}

// processMemory runs memory processing, degrading to empty memory on absence
// of a processor.
func (p *Pipeline) processMemory(ctx context.Context, userID string, messages []datatypes.Message) datatypes.MemoryResult {
	if p.memory == nil {
		return datatypes.MemoryResult{}
	}
	start := time.Now()
	result := p.memory.Process(ctx, userID, messages)
	observability.ObserveStage("memory", time.Since(start).Seconds())
	return result
}

// handleAudio decodes, transcribes, and emotion-analyzes an audio payload.
func (p *Pipeline) handleAudio(ctx context.Context, audio *datatypes.MediaContent) (transcript, emotion string, err error) {
	if p.transcriber == nil {
		return "", "", fmt.Errorf("no transcriber configured")
	}
	if audio == nil {
		return "", "", fmt.Errorf("audio input without audio payload")
	}

	raw := []byte(audio.Data)
	if audio.Kind == "base64" {
		raw, err = base64.StdEncoding.DecodeString(audio.Data)
		if err != nil {
			return "", "", fmt.Errorf("invalid base64 audio: %w", err)
		}
	}

	start := time.Now()
	transcript, err = p.transcriber.Transcribe(ctx, raw)
	observability.ObserveStage("transcribe", time.Since(start).Seconds())
	if err != nil {
		return "", "", fmt.Errorf("transcription failed: %w", err)
	}

	emotion = AnalyzeEmotion(ctx, p.llmClient, transcript)
	return transcript, emotion, nil
}

// extractAndStore runs fact extraction and persists the result. Failures are
// logged but never fail the turn.
func (p *Pipeline) extractAndStore(ctx context.Context, userID, message string, history []datatypes.Message) {
	if p.store == nil {
		return
	}
	start := time.Now()
	defer func() { observability.ObserveStage("extract", time.Since(start).Seconds()) }()

	extracted, err := ExtractKeyInfo(ctx, p.llmClient, message, BuildConversationContext(history))
	if err != nil {
		slog.Warn("Fact extraction failed, skipping persistence", "userID", userID, "error", err)
		return
	}

	key, err := p.store.UpsertFact(ctx, datatypes.NewFactRecord(userID, extracted))
	if err != nil {
		slog.Warn("Failed to persist extracted fact", "userID", userID, "error", err)
		return
	}
	observability.RecordFactStored()
	slog.Debug("Extracted fact stored", "userID", userID, "key", key)
}

// buildRelevantContext runs multi-query retrieval over the user's extracted
// facts and fuses the ranked lists.
func (p *Pipeline) buildRelevantContext(ctx context.Context, userID, query string) string {
	if p.store == nil {
		return NoPreviousContext
	}
	queries := GenerateQueries(ctx, p.llmClient, query, p.config.MultiQueryN)

	var lists [][]datatypes.RetrievedMatch
	for _, q := range queries {
		matches, err := p.store.QueryByText(ctx, userID, datatypes.RecordTypeFact, q, p.config.RelevantTopK)
		if err != nil {
			slog.Warn("Relevant-context search failed for query variant", "userID", userID, "error", err)
			continue
		}
		lists = append(lists, matches)
	}
	if len(lists) == 0 {
		return RelevantContextError
	}

	fused := ReciprocalRankFusion(lists, p.config.RelevantTopK, p.config.RelevantTopK)
	return BuildRelevantContext(fused)
}

// buildSemanticContext runs a direct search over the user's extracted facts
// and keeps matches above the certainty threshold.
func (p *Pipeline) buildSemanticContext(ctx context.Context, userID, query string) string {
	if p.store == nil {
		return NoSemanticContext
	}
	matches, err := p.store.QueryByText(ctx, userID, datatypes.RecordTypeFact, query, p.config.SemanticTopK)
	if err != nil {
		slog.Warn("Semantic-context search failed", "userID", userID, "error", err)
		return SemanticContextError
	}
	return BuildSemanticContext(matches, p.config.SemanticThreshold)
}

// timedStage runs fn and records its duration under the given stage label.
func (p *Pipeline) timedStage(stage string, fn func() string) string {
	start := time.Now()
	out := fn()
	observability.ObserveStage(stage, time.Since(start).Seconds())
	return out
}
