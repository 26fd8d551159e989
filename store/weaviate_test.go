// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexyujiuqiao/IM/datatypes"
)

func TestObjectID_Deterministic(t *testing.T) {
	key := datatypes.VoiceProfileKey("user-7")

	first := objectID(key)
	second := objectID(key)

	assert.Equal(t, first, second, "same key must map to the same object UUID")
}

func TestObjectID_DistinctKeys(t *testing.T) {
	a := objectID("user-7_2025-08-29T10:00:00Z_extracted")
	b := objectID("user-7_2025-08-29T10:00:01Z_extracted")

	assert.NotEqual(t, a, b, "distinct fact keys must not collide")
}

func TestObjectID_RapidFactsGetDistinctIDs(t *testing.T) {
	a := datatypes.NewFactRecord("user-7", "first fact")
	b := datatypes.NewFactRecord("user-7", "second fact")

	assert.NotEqual(t, objectID(a.FactKey()), objectID(b.FactKey()),
		"facts written within the same second must get distinct object UUIDs")
}

func TestObjectID_CrossUserIsolation(t *testing.T) {
	a := objectID(datatypes.VoiceProfileKey("alice"))
	b := objectID(datatypes.VoiceProfileKey("bob"))

	assert.NotEqual(t, a, b)
}
