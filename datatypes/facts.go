// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Record Types
// =============================================================================

// Record type labels stored alongside each vector.
const (
	RecordTypeFact         = "extracted_fact"
	RecordTypeVoiceProfile = "voice_profile"
)

// FactRecord is the canonical persisted form of an extracted fact.
type FactRecord struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`

	// Legacy structured fields. Older records stored the extraction split
	// into slots instead of a single sentence; ResolveText reassembles them.
	Person   string `json:"person,omitempty"`
	When     string `json:"when,omitempty"`
	Where    string `json:"where,omitempty"`
	Event    string `json:"event,omitempty"`
	Emotions string `json:"emotions,omitempty"`
}

// NewFactRecord builds a fact record stamped with the current UTC time.
// Nanosecond precision keeps keys distinct when facts land within the same
// second, so one upsert never overwrites another.
func NewFactRecord(userID, text string) FactRecord {
	return FactRecord{
		UserID:    userID,
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// FactKey returns the logical storage key for this record,
// "{user_id}_{timestamp}_extracted".
func (r FactRecord) FactKey() string {
	return fmt.Sprintf("%s_%s_extracted", r.UserID, r.Timestamp)
}

// VoiceProfileKey returns the logical storage key for a user's voice profile,
// "{user_id}_voice_profile". There is at most one per user; writes overwrite.
func VoiceProfileKey(userID string) string {
	return fmt.Sprintf("%s_voice_profile", userID)
}

// ResolveText returns the fact text, falling back to reassembling the legacy
// structured slots for records written before single-sentence extraction.
func (r FactRecord) ResolveText() string {
	if r.Text != "" {
		return r.Text
	}
	var parts []string
	for _, p := range []struct{ label, value string }{
		{"person", r.Person},
		{"when", r.When},
		{"where", r.Where},
		{"event", r.Event},
		{"emotions", r.Emotions},
	} {
		if p.value != "" && !strings.EqualFold(p.value, "unknown") {
			parts = append(parts, fmt.Sprintf("%s: %s", p.label, p.value))
		}
	}
	return strings.Join(parts, "; ")
}

// =============================================================================
// Retrieval Types
// =============================================================================

// RetrievedMatch is one vector-search hit with its relevance score.
type RetrievedMatch struct {
	ID     string     `json:"id"`
	Score  float64    `json:"score"`
	Record FactRecord `json:"record"`
}

// MemoryResult is the processed long-term memory for a user, consumed by
// prompt assembly.
type MemoryResult struct {
	Context string `json:"context"`
	Profile string `json:"profile"`
	Summary string `json:"summary"`
}
