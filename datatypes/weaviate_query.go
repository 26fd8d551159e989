// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// UserMemoryQueryResponse represents the response from querying the UserMemory class.
type UserMemoryQueryResponse struct {
	Get struct {
		UserMemory []UserMemoryResult `json:"UserMemory"`
	} `json:"Get"`
}

// UserMemoryResult represents a single memory record from a query.
type UserMemoryResult struct {
	FactKey    string `json:"fact_key"`
	UserID     string `json:"user_id"`
	RecordType string `json:"record_type"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
	Person     string `json:"person"`
	When       string `json:"when"`
	Where      string `json:"where"`
	Event      string `json:"event"`
	Emotions   string `json:"emotions"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}

// ToFactRecord converts a query result to the canonical record shape.
func (r UserMemoryResult) ToFactRecord() FactRecord {
	return FactRecord{
		UserID:    r.UserID,
		Text:      r.Text,
		Timestamp: r.Timestamp,
		Person:    r.Person,
		When:      r.When,
		Where:     r.Where,
		Event:     r.Event,
		Emotions:  r.Emotions,
	}
}
