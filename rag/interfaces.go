// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rag implements the retrieval-augmented conversation pipeline:
// query rewriting, fact extraction, multi-query retrieval with rank fusion,
// voice-profile classification, and prompt assembly.
package rag

import (
	"context"

	"github.com/alexyujiuqiao/IM/datatypes"
)

// FactStore persists and retrieves per-user memory records.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type FactStore interface {
	// UpsertFact embeds and persists an extracted fact, returning its
	// storage key.
	UpsertFact(ctx context.Context, record datatypes.FactRecord) (string, error)

	// UpsertVoiceProfile persists the user's voice profile, overwriting any
	// prior one.
	UpsertVoiceProfile(ctx context.Context, userID, profile string) error

	// QueryByText embeds the query and returns the user's nearest records of
	// the given type, ordered by similarity.
	QueryByText(ctx context.Context, userID, recordType, query string, topK int) ([]datatypes.RetrievedMatch, error)
}

// MemoryProcessor turns recent conversation into processed long-term memory.
type MemoryProcessor interface {
	// Process ingests the latest messages and returns memory context for
	// prompt assembly. Implementations degrade rather than fail.
	Process(ctx context.Context, userID string, messages []datatypes.Message) datatypes.MemoryResult
}

// Transcriber converts audio payloads into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
