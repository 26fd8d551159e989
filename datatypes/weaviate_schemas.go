// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// UserMemoryClass is the Weaviate class holding all per-user memory objects:
// extracted facts and voice profiles, distinguished by record_type.
const UserMemoryClass = "UserMemory"

// GetUserMemorySchema returns the schema for the UserMemory class.
//
// # Description
//
// UserMemory stores one object per extracted fact plus at most one voice
// profile object per user. Vectors are supplied externally by the embedding
// provider, so the vectorizer is disabled.
//
// # Properties
//
//   - fact_key: Logical storage key, "{user_id}_{timestamp}_extracted" for
//     facts and "{user_id}_voice_profile" for profiles.
//   - user_id: Owner of the record; every query filters on this.
//   - record_type: "extracted_fact" or "voice_profile".
//   - text: The single-sentence fact or the profile label.
//   - timestamp: RFC3339 creation time of the record.
//   - person/when/where/event/emotions: Legacy slot fields kept for records
//     written before single-sentence extraction.
func GetUserMemorySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       UserMemoryClass,
		Description: "Per-user long-term memory: extracted facts and voice profile records.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "fact_key",
				DataType:        []string{"text"},
				Description:     "Logical storage key for the record.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "The user this record belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "record_type",
				DataType:        []string{"text"},
				Description:     "Record kind: extracted_fact or voice_profile.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The extracted fact sentence, or the voice profile label.",
				Tokenization: "word",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"text"},
				Description:     "RFC3339 creation time of the record.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "person",
				DataType:    []string{"text"},
				Description: "Legacy: who the fact concerns.",
			},
			{
				Name:        "when",
				DataType:    []string{"text"},
				Description: "Legacy: when the event happens.",
			},
			{
				Name:        "where",
				DataType:    []string{"text"},
				Description: "Legacy: where the event happens.",
			},
			{
				Name:        "event",
				DataType:    []string{"text"},
				Description: "Legacy: what the event is.",
			},
			{
				Name:        "emotions",
				DataType:    []string{"text"},
				Description: "Legacy: the user's emotional state.",
			},
		},
	}
}

// UserMemoryProperties represents the properties for creating a UserMemory object.
type UserMemoryProperties struct {
	FactKey    string `json:"fact_key"`
	UserID     string `json:"user_id"`
	RecordType string `json:"record_type"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

// ToMap converts UserMemoryProperties to map[string]interface{} for Weaviate.
func (p *UserMemoryProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"fact_key":    p.FactKey,
		"user_id":     p.UserID,
		"record_type": p.RecordType,
		"text":        p.Text,
		"timestamp":   p.Timestamp,
	}
}

// EnsureWeaviateSchema creates any missing classes at startup.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetUserMemorySchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// Check if the class already exists.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				// If we fail to create it, it's a fatal error.
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
