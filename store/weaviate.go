// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists per-user memory records in Weaviate.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/embedding"
)

var tracer = otel.Tracer("im.store")

// factKeyNamespace derives deterministic object UUIDs from logical fact keys,
// so writes to the same key overwrite instead of accumulating.
var factKeyNamespace = uuid.MustParse("8f0a2b1c-3d4e-4f50-9a6b-7c8d9e0f1a2b")

// WeaviateMemoryStore implements fact and voice-profile persistence on Weaviate.
//
// # Description
//
// Each record lives as one UserMemory object whose UUID is derived from its
// logical key. Fact keys embed a timestamp so each fact gets its own object;
// the voice-profile key is stable per user, so profile writes are latest-wins.
//
// # Thread Safety
//
// WeaviateMemoryStore is safe for concurrent use. The underlying Weaviate
// client handles connection pooling.
type WeaviateMemoryStore struct {
	client   *weaviate.Client
	embedder embedding.Provider
}

// NewWeaviateMemoryStore creates a store backed by the given client and embedder.
func NewWeaviateMemoryStore(client *weaviate.Client, embedder embedding.Provider) *WeaviateMemoryStore {
	return &WeaviateMemoryStore{client: client, embedder: embedder}
}

// objectID returns the deterministic UUID for a logical key.
func objectID(factKey string) string {
	return uuid.NewSHA1(factKeyNamespace, []byte(factKey)).String()
}

// UpsertFact embeds and persists an extracted fact.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - record: The fact to persist. Text must be non-empty.
//
// # Outputs
//
//   - string: The logical storage key of the written record.
//   - error: Non-nil if embedding or the write fails.
func (s *WeaviateMemoryStore) UpsertFact(ctx context.Context, record datatypes.FactRecord) (string, error) {
	ctx, span := tracer.Start(ctx, "UpsertFact")
	defer span.End()

	if strings.TrimSpace(record.Text) == "" {
		return "", fmt.Errorf("fact text is empty")
	}

	key := record.FactKey()
	props := datatypes.UserMemoryProperties{
		FactKey:    key,
		UserID:     record.UserID,
		RecordType: datatypes.RecordTypeFact,
		Text:       record.Text,
		Timestamp:  record.Timestamp,
	}

	if err := s.write(ctx, key, record.Text, props); err != nil {
		return "", err
	}

	slog.Debug("Stored extracted fact", "userID", record.UserID, "key", key)
	return key, nil
}

// UpsertVoiceProfile persists a user's voice profile, overwriting any prior one.
func (s *WeaviateMemoryStore) UpsertVoiceProfile(ctx context.Context, userID, profile string) error {
	ctx, span := tracer.Start(ctx, "UpsertVoiceProfile")
	defer span.End()

	record := datatypes.NewFactRecord(userID, profile)
	key := datatypes.VoiceProfileKey(userID)
	props := datatypes.UserMemoryProperties{
		FactKey:    key,
		UserID:     userID,
		RecordType: datatypes.RecordTypeVoiceProfile,
		Text:       profile,
		Timestamp:  record.Timestamp,
	}

	if err := s.write(ctx, key, profile, props); err != nil {
		return err
	}

	slog.Debug("Stored voice profile", "userID", userID, "profile", profile)
	return nil
}

// write embeds the text and creates or updates the object at the key's UUID.
func (s *WeaviateMemoryStore) write(ctx context.Context, key, text string, props datatypes.UserMemoryProperties) error {
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed record: %w", err)
	}

	id := objectID(key)

	_, err = s.client.Data().Creator().
		WithClassName(datatypes.UserMemoryClass).
		WithID(id).
		WithProperties(props.ToMap()).
		WithVector(vector).
		Do(ctx)
	if err == nil {
		return nil
	}

	// The object already exists at this UUID; replace it.
	updateErr := s.client.Data().Updater().
		WithClassName(datatypes.UserMemoryClass).
		WithID(id).
		WithProperties(props.ToMap()).
		WithVector(vector).
		Do(ctx)
	if updateErr != nil {
		return fmt.Errorf("weaviate write failed: create=[%v], update=[%w]", err, updateErr)
	}
	return nil
}

// QueryByVector retrieves a user's records nearest to the given vector.
//
// # Description
//
// Runs a nearVector search over the UserMemory class, filtered to the user
// and record type. Certainty (always [0,1]) is used as the match score.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - userID: The user whose records to search.
//   - recordType: datatypes.RecordTypeFact or datatypes.RecordTypeVoiceProfile.
//   - vector: The query embedding.
//   - topK: Maximum number of matches to return.
//
// # Outputs
//
//   - []datatypes.RetrievedMatch: Matches ordered by similarity (highest first).
//   - error: Non-nil if the search or parsing fails.
func (s *WeaviateMemoryStore) QueryByVector(ctx context.Context, userID, recordType string, vector []float32, topK int) ([]datatypes.RetrievedMatch, error) {
	ctx, span := tracer.Start(ctx, "QueryByVector")
	defer span.End()

	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	typeFilter := filters.Where().
		WithPath([]string{"record_type"}).
		WithOperator(filters.Equal).
		WithValueString(recordType)

	combinedFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{userFilter, typeFilter})

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// Request certainty (always [0,1]) instead of distance which varies by metric.
	fields := []graphql.Field{
		{Name: "fact_key"},
		{Name: "user_id"},
		{Name: "record_type"},
		{Name: "text"},
		{Name: "timestamp"},
		{Name: "person"},
		{Name: "when"},
		{Name: "where"},
		{Name: "event"},
		{Name: "emotions"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.UserMemoryClass).
		WithFields(fields...).
		WithWhere(combinedFilter).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to search UserMemory class", "error", err, "userID", userID)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.UserMemoryQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	matches := make([]datatypes.RetrievedMatch, 0, len(parsed.Get.UserMemory))
	for _, r := range parsed.Get.UserMemory {
		var score float64
		if r.Additional.Certainty != nil {
			score = *r.Additional.Certainty
		}
		matches = append(matches, datatypes.RetrievedMatch{
			ID:     r.FactKey,
			Score:  score,
			Record: r.ToFactRecord(),
		})
	}
	return matches, nil
}

// QueryByText embeds the query text and delegates to QueryByVector.
func (s *WeaviateMemoryStore) QueryByText(ctx context.Context, userID, recordType, query string, topK int) ([]datatypes.RetrievedMatch, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.QueryByVector(ctx, userID, recordType, vector, topK)
}

// GetVoiceProfile returns the stored voice profile for a user, or "" when the
// user has no profile yet.
func (s *WeaviateMemoryStore) GetVoiceProfile(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "GetVoiceProfile")
	defer span.End()

	keyFilter := filters.Where().
		WithPath([]string{"fact_key"}).
		WithOperator(filters.Equal).
		WithValueString(datatypes.VoiceProfileKey(userID))

	fields := []graphql.Field{
		{Name: "text"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.UserMemoryClass).
		WithFields(fields...).
		WithWhere(keyFilter).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.UserMemoryQueryResponse](result)
	if err != nil {
		return "", fmt.Errorf("failed to parse results: %w", err)
	}

	if len(parsed.Get.UserMemory) == 0 {
		return "", nil
	}
	return parsed.Get.UserMemory[0].Text, nil
}

// ClearUser deletes every memory record belonging to a user.
func (s *WeaviateMemoryStore) ClearUser(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "ClearUser")
	defer span.End()

	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.UserMemoryClass).
		WithWhere(userFilter).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate batch delete failed: %w", err)
	}

	deleted := 0
	if resp != nil && resp.Results != nil {
		deleted = int(resp.Results.Successful)
	}
	slog.Info("Cleared user memory", "userID", userID, "deleted", deleted)
	return deleted, nil
}
